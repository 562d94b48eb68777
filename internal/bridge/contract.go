// Package bridge implements both sides of the Bridge contract: a small HTTP
// service that lets a client browse and read a machine's drives, and the
// client that turns a remote directory into a media.DirHandle.
//
// Endpoints, all GET, all taking a slash separated "path" query parameter
// relative to the served root:
//
//	/list    direct children of a directory
//	/stream  file bytes, honouring Range
//	/scan    every file below a directory
package bridge

// EntryDTO describes one file or directory.
type EntryDTO struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	IsDir      bool   `json:"is_dir"`
	Size       int64  `json:"size,omitempty"`
	ModifiedMs int64  `json:"modified_ms,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
}

type ListResponse struct {
	Path    string     `json:"path"`
	Entries []EntryDTO `json:"entries"`
}

type ScanResponse struct {
	Path  string     `json:"path"`
	Files []EntryDTO `json:"files"`
}
