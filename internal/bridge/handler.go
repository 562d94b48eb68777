package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"lorevault/internal/media"
	"lorevault/internal/streaming"
)

// Handler serves the Bridge endpoints over a local directory.
type Handler struct {
	root     string
	logger   zerolog.Logger
	streamer *streaming.Handler
}

// errOutsideRoot reports a path that leaves the served root once symlinks
// are followed. It is answered like a missing file.
var errOutsideRoot = fmt.Errorf("path outside served root: %w", fs.ErrNotExist)

func NewHandler(root string, logger zerolog.Logger) *Handler {
	root = filepath.Clean(root)
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	return &Handler{
		root:     root,
		logger:   logger,
		streamer: streaming.NewHandler(),
	}
}

// Routes returns a router to mount under the Bridge prefix.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/list", h.List)
	r.Get("/stream", h.Stream)
	r.Get("/scan", h.Scan)
	return r
}

// resolve maps a contract path onto the served root and follows symlinks.
// Paths, and the targets of links inside the root, cannot escape it.
func (h *Handler) resolve(p string) (string, string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
	real, err := filepath.EvalSymlinks(filepath.Join(h.root, filepath.FromSlash(clean)))
	if err != nil {
		return "", clean, err
	}
	sub, err := filepath.Rel(h.root, real)
	if err != nil || sub == ".." || strings.HasPrefix(sub, ".."+string(filepath.Separator)) {
		return "", clean, errOutsideRoot
	}
	return real, clean, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	full, rel, err := h.resolve(r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, err, rel)
		return
	}

	dirEntries, err := os.ReadDir(full)
	if err != nil {
		h.fail(w, err, rel)
		return
	}

	resp := ListResponse{Path: rel, Entries: []EntryDTO{}}
	for _, de := range dirEntries {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		entry := EntryDTO{Name: de.Name(), Path: path.Join(rel, de.Name()), IsDir: de.IsDir()}
		if !de.IsDir() {
			info, err := de.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			entry.Size = info.Size()
			entry.ModifiedMs = info.ModTime().UnixMilli()
			entry.MimeType = media.GetContentType(de.Name())
		}
		resp.Entries = append(resp.Entries, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	full, rel, err := h.resolve(r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, err, rel)
		return
	}

	info, err := os.Stat(full)
	if err != nil {
		h.fail(w, err, rel)
		return
	}
	if info.IsDir() {
		http.Error(w, "path is a directory", http.StatusBadRequest)
		return
	}

	h.streamer.ServeFile(w, r, full)
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	full, rel, err := h.resolve(r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, err, rel)
		return
	}

	resp := ScanResponse{Path: rel, Files: []EntryDTO{}}
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == full {
				return err
			}
			h.logger.Debug().Err(err).Str("path", p).Msg("bridge scan skipped path")
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		sub, err := filepath.Rel(h.root, p)
		if err != nil {
			return nil
		}
		resp.Files = append(resp.Files, EntryDTO{
			Name:       d.Name(),
			Path:       filepath.ToSlash(sub),
			Size:       info.Size(),
			ModifiedMs: info.ModTime().UnixMilli(),
			MimeType:   media.GetContentType(d.Name()),
		})
		return nil
	})
	if err != nil {
		h.fail(w, err, rel)
		return
	}

	sort.Slice(resp.Files, func(i, j int) bool { return resp.Files[i].Path < resp.Files[j].Path })
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, err error, rel string) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "permission denied", http.StatusForbidden)
	default:
		h.logger.Error().Err(err).Str("path", rel).Msg("bridge request failed")
		http.Error(w, "cannot read path", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
