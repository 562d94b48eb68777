package storage

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrUnavailable means the storage engine could not be opened at all.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded means a write was rejected for lack of space.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	ErrNotFound      = errors.New("not found")
)

// Classify maps engine errors onto ErrQuotaExceeded and ErrUnavailable.
// Errors that are already classified, and generic I/O failures, are returned
// unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrUnavailable) {
		return err
	}

	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_READONLY:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	// Some driver paths only surface the message text.
	if strings.Contains(err.Error(), "database or disk is full") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}

// IsQuota reports whether err is, or classifies as, a quota error.
func IsQuota(err error) bool {
	return errors.Is(Classify(err), ErrQuotaExceeded)
}
