package media

import (
	"mime"
	"path/filepath"
	"strings"
)

var supportedVideoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
}

func IsSupportedVideo(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return supportedVideoExtensions[ext]
}

// IsVideoMime is the import filter: anything whose type is not video/* is
// rejected.
func IsVideoMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/")
}

// GetContentType guesses a MIME type from the file name the way a browser
// fills File.type.
func GetContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".wmv":
		return "video/x-ms-wmv"
	case ".flv":
		return "video/x-flv"
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
