package media

import "errors"

var (
	// ErrMissingParts means a chunked video cannot be rebuilt because at
	// least one of its segments is absent.
	ErrMissingParts = errors.New("video is corrupted or missing parts")
	// ErrPermissionDenied means read access to a live handle was not granted.
	ErrPermissionDenied = errors.New("permission needed")
	// ErrUnsupported means a directory handle offers no way to list it.
	ErrUnsupported = errors.New("directory read not supported")
	// ErrCancelled means the user dismissed the operation. It is not a
	// failure and callers should leave library state untouched.
	ErrCancelled = errors.New("cancelled")
)
