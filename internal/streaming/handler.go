package streaming

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"lorevault/internal/media"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// ServeFile streams a file from disk with range support.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) {
	file, err := os.Open(filePath)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Cannot read file", http.StatusInternalServerError)
		return
	}

	h.ServeContent(w, r, filepath.Base(filePath), media.GetContentType(filePath), stat.ModTime(), stat.Size(), file)
}

// ServeContent streams size bytes of content with range support, whatever
// store they come from.
func (h *Handler) ServeContent(w http.ResponseWriter, r *http.Request, name, contentType string, modTime time.Time, size int64, content io.ReaderAt) {
	if contentType == "" {
		contentType = media.GetContentType(name)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, name, modTime, io.NewSectionReader(content, 0, size))
}
