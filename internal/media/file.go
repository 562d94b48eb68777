package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

var errNoContent = errors.New("file has no content source")

// Content is readable video bytes.
type Content interface {
	io.ReaderAt
	io.Closer
}

// Opener gives access to a file's bytes.
type Opener interface {
	Open(ctx context.Context) (Content, error)
}

// File is one import candidate, whatever its origin.
type File struct {
	Name           string
	MimeType       string
	Size           int64
	LastModifiedMs int64
	// RelativePath is the folder the file was found in, not yet normalized.
	RelativePath string
	// FromFolder is set when the file came from a folder selection.
	FromFolder bool
	// Handle is set for files found by walking a live directory. Such files
	// are linked, not copied.
	Handle FileHandle
	Opener Opener
}

func (f File) open(ctx context.Context) (Content, error) {
	if f.Handle != nil {
		return f.Handle.Open(ctx)
	}
	if f.Opener == nil {
		return nil, errNoContent
	}
	return f.Opener.Open(ctx)
}

type bytesContent struct {
	*bytes.Reader
}

func (bytesContent) Close() error { return nil }

// BytesOpener serves an in-memory payload.
type BytesOpener []byte

func (b BytesOpener) Open(ctx context.Context) (Content, error) {
	return bytesContent{bytes.NewReader(b)}, nil
}

// NewMemoryFile builds an import candidate from bytes already in memory, as
// an upload or a picker would provide.
func NewMemoryFile(name, mimeType, relativePath string, modTime time.Time, data []byte) File {
	if mimeType == "" {
		mimeType = GetContentType(name)
	}
	return File{
		Name:           name,
		MimeType:       mimeType,
		Size:           int64(len(data)),
		LastModifiedMs: modTime.UnixMilli(),
		RelativePath:   relativePath,
		FromFolder:     relativePath != "",
		Opener:         BytesOpener(data),
	}
}

func readAll(ctx context.Context, f File) ([]byte, error) {
	c, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	buf := make([]byte, f.Size)
	n, err := c.ReadAt(buf, 0)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}
