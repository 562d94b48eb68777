package storage

import "fmt"

// StorageKind says which physical representation holds a video's bytes.
type StorageKind string

const (
	StorageBlob   StorageKind = "blob"
	StorageHandle StorageKind = "handle"
	StorageChunks StorageKind = "chunks"
)

// Valid reports whether k is one of the known storage kinds.
func (k StorageKind) Valid() bool {
	switch k {
	case StorageBlob, StorageHandle, StorageChunks:
		return true
	}
	return false
}

type SourceKind string

const (
	SourceFolder SourceKind = "folder"
	SourceFile   SourceKind = "file"
)

type ImportSource string

const (
	ImportInputFile       ImportSource = "input_file"
	ImportInputFolder     ImportSource = "input_folder"
	ImportDirectoryHandle ImportSource = "directory_handle"
)

// ErrUnknownStorageKind is returned by every switch over StorageKind that
// meets a value it does not handle.
type ErrUnknownStorageKind struct {
	Kind StorageKind
}

func (e ErrUnknownStorageKind) Error() string {
	return fmt.Sprintf("unknown storage kind %q", string(e.Kind))
}

// Video is one library entry. Blob is only set on records that have not been
// saved yet; rows read back from a store never carry it.
type Video struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	MimeType       string       `json:"mime_type"`
	SizeBytes      int64        `json:"size_bytes"`
	LastModifiedMs int64        `json:"last_modified_ms"`
	CreatedAtMs    int64        `json:"created_at_ms"`
	RelativePath   string       `json:"relative_path"`
	SourceKind     SourceKind   `json:"source_kind"`
	StorageKind    StorageKind  `json:"storage_kind"`
	ImportSource   ImportSource `json:"import_source"`
	ChunkCount     int          `json:"chunk_count,omitempty"`
	HandleRef      string       `json:"-"` // scheme-qualified handle location, handle kind only
	Blob           []byte       `json:"-"`
}

// PayloadSize is the number of bytes the record itself puts into the store.
func (v *Video) PayloadSize() int64 {
	return int64(len(v.Blob))
}

// PutResult reports per-record outcomes of a PutMany call.
type PutResult struct {
	Stored  []string
	NoSpace []string
	Failed  map[string]error
}

// Completion is one row of the local progress ledger.
type Completion struct {
	Reference     string `json:"reference"`
	VideoID       string `json:"video_id"`
	CompletedAtMs int64  `json:"completed_at_ms"`
}
