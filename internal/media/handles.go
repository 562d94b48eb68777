package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Handle is a live reference to a file or directory granted by the user.
type Handle interface {
	Name() string
}

// FileInfo is what a file handle reports about itself.
type FileInfo struct {
	Size           int64
	LastModifiedMs int64
	MimeType       string
}

// FileHandle is a live file. Its bytes stay where they are.
type FileHandle interface {
	Handle
	Stat(ctx context.Context) (FileInfo, error)
	Open(ctx context.Context) (Content, error)
	// Ref is a scheme-qualified location, e.g. "os:/videos/a.mp4", from
	// which a Handles registry can recreate the handle later.
	Ref() string
}

// DirHandle is a live directory. It lists itself through EntriesLister or
// ValuesLister.
type DirHandle interface {
	Handle
}

// Entry is one child of a directory listed through EntriesLister.
type Entry struct {
	Name   string
	Handle Handle
}

type EntriesLister interface {
	Entries(ctx context.Context) ([]Entry, error)
}

type ValuesLister interface {
	Values(ctx context.Context) ([]Handle, error)
}

type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionPrompt  PermissionState = "prompt"
	PermissionDenied  PermissionState = "denied"
)

// PermissionRequester is implemented by handles whose read access can be
// queried and requested.
type PermissionRequester interface {
	QueryPermission(ctx context.Context) (PermissionState, error)
	RequestPermission(ctx context.Context) (PermissionState, error)
}

// EnsureReadPermission queries the handle's permission and requests it when
// not yet granted. Handles without a permission model are readable.
func EnsureReadPermission(ctx context.Context, h Handle) error {
	p, ok := h.(PermissionRequester)
	if !ok {
		return nil
	}

	state, err := p.QueryPermission(ctx)
	if err != nil {
		return err
	}
	if state == PermissionGranted {
		return nil
	}

	state, err = p.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if state != PermissionGranted {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, h.Name())
	}
	return nil
}

// Handles recreates file handles from stored refs.
type Handles struct {
	mu      sync.RWMutex
	openers map[string]func(path string) (FileHandle, error)
}

func NewHandles() *Handles {
	h := &Handles{openers: make(map[string]func(string) (FileHandle, error))}
	h.Register("os", func(path string) (FileHandle, error) {
		return NewOSFile(path), nil
	})
	return h
}

// Register installs the constructor for refs of the given scheme.
func (h *Handles) Register(scheme string, open func(path string) (FileHandle, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.openers[scheme] = open
}

func (h *Handles) Resolve(ref string) (FileHandle, error) {
	scheme, path, ok := strings.Cut(ref, ":")
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid handle ref %q", ref)
	}

	h.mu.RLock()
	open, ok := h.openers[scheme]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handle support for %q", ErrUnsupported, scheme)
	}
	return open(path)
}

// OSDir is a directory on the local file system.
type OSDir struct {
	path string
	name string
}

var _ EntriesLister = (*OSDir)(nil)

// NewOSDir opens a directory handle on path. The handle is named after the
// directory itself; a file system root has no name.
func NewOSDir(path string) (*OSDir, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, translateFSError(err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	name := filepath.Base(abs)
	if name == string(filepath.Separator) || name == "." || filepath.VolumeName(abs)+string(filepath.Separator) == abs {
		name = ""
	}
	return &OSDir{path: abs, name: name}, nil
}

func (d *OSDir) Name() string { return d.name }

func (d *OSDir) Path() string { return d.path }

func (d *OSDir) Entries(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, translateFSError(err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		full := filepath.Join(d.path, de.Name())
		switch {
		case de.IsDir():
			entries = append(entries, Entry{Name: de.Name(), Handle: &OSDir{path: full, name: de.Name()}})
		case de.Type().IsRegular():
			entries = append(entries, Entry{Name: de.Name(), Handle: NewOSFile(full)})
		}
	}
	return entries, nil
}

// OSFile is a file on the local file system.
type OSFile struct {
	path string
}

var (
	_ FileHandle          = (*OSFile)(nil)
	_ PermissionRequester = (*OSFile)(nil)
)

func NewOSFile(path string) *OSFile {
	return &OSFile{path: path}
}

func (f *OSFile) Name() string { return filepath.Base(f.path) }

func (f *OSFile) Ref() string { return "os:" + f.path }

func (f *OSFile) Stat(ctx context.Context) (FileInfo, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return FileInfo{}, translateFSError(err)
	}
	return FileInfo{
		Size:           info.Size(),
		LastModifiedMs: info.ModTime().UnixMilli(),
		MimeType:       GetContentType(f.path),
	}, nil
}

func (f *OSFile) Open(ctx context.Context) (Content, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, translateFSError(err)
	}
	return file, nil
}

// QueryPermission probes read access. The OS cannot prompt, so a request
// gives the same answer as a query.
func (f *OSFile) QueryPermission(ctx context.Context) (PermissionState, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return PermissionDenied, nil
		}
		return "", translateFSError(err)
	}
	file.Close()
	return PermissionGranted, nil
}

func (f *OSFile) RequestPermission(ctx context.Context) (PermissionState, error) {
	return f.QueryPermission(ctx)
}

func translateFSError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
