package api

import (
	"lorevault/internal/media"
	"lorevault/internal/progress"
	"lorevault/internal/storage"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Persistent bool   `json:"persistent"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Library

type LibraryView struct {
	Name        string          `json:"name"`
	Folders     []FolderSection `json:"folders"`
	Total       int             `json:"total"`
	FolderCount int             `json:"folder_count"`
}

type FolderSection struct {
	Path   string          `json:"path"`
	Name   string          `json:"name"`
	Videos []storage.Video `json:"videos"`
}

// BrowseResponse is a live view of a directory that is not in the library.
type BrowseResponse struct {
	LibraryView
	Rejected  []string `json:"rejected"`
	Failed    []string `json:"failed"`
	Processed int      `json:"processed"`
}

type MediaResponse struct {
	Video     *storage.Video `json:"video"`
	StreamURL string         `json:"stream_url"`
}

// Import

type ImportRequest struct {
	Path string `json:"path"`
	// Link keeps the files where they are instead of copying them.
	Link bool `json:"link"`
	// Remote reads Path through the configured Bridge.
	Remote bool `json:"remote"`
}

type ImportResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Job     *media.Job          `json:"job,omitempty"`
	Result  *media.ImportResult `json:"result,omitempty"`
}

type JobsResponse struct {
	Jobs []media.Job `json:"jobs"`
}

// Progress

type ReferenceResponse struct {
	VideoID   string        `json:"video_id"`
	Reference string        `json:"reference"`
	Tier      progress.Tier `json:"tier"`
	Completed bool          `json:"completed"`
}

type CompleteResponse struct {
	VideoID   string        `json:"video_id"`
	Reference string        `json:"reference"`
	Tier      progress.Tier `json:"tier"`
	Recorded  bool          `json:"recorded"`
}

type ProgressResponse struct {
	Reference string        `json:"reference"`
	Tier      progress.Tier `json:"tier"`
	Completed bool          `json:"completed"`
}
