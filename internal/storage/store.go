package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultRelativePath is the folder assigned to videos that arrived without
// any folder structure.
const DefaultRelativePath = "unfiled"

// Store is the durable home of the video library.
type Store interface {
	ListAll(ctx context.Context) ([]Video, error)
	Get(ctx context.Context, id string) (*Video, error)
	Count(ctx context.Context) (int, error)
	PutMany(ctx context.Context, videos []Video) (PutResult, error)
	PutChunk(ctx context.Context, videoID string, index int, data []byte) error
	GetChunk(ctx context.Context, key string) ([]byte, bool, error)
	// ChunkLengths maps the index of every stored segment of videoID to its
	// length, without reading segment data.
	ChunkLengths(ctx context.Context, videoID string) (map[int]int64, error)
	DeleteChunks(ctx context.Context, videoID string, count int) error
	OpenBlob(ctx context.Context, id string) ([]byte, error)
	DeleteOne(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	Close() error
}

// ChunkKey is the key of segment index of a chunked video.
func ChunkKey(videoID string, index int) string {
	return fmt.Sprintf("%s::chunk_%d", videoID, index)
}

// ChunkKeyPrefix is the common prefix of every chunk key of videoID.
func ChunkKeyPrefix(videoID string) string {
	return videoID + "::chunk_"
}

// chunkIndex parses the segment index out of a key carrying prefix.
func chunkIndex(key, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

// Normalize fills in defaults for fields that rows written by older schema
// versions do not have.
func Normalize(v Video) Video {
	if strings.TrimSpace(v.RelativePath) == "" {
		v.RelativePath = DefaultRelativePath
	}
	if v.StorageKind == "" {
		switch {
		case v.ChunkCount > 0:
			v.StorageKind = StorageChunks
		case v.HandleRef != "":
			v.StorageKind = StorageHandle
		default:
			v.StorageKind = StorageBlob
		}
	}
	if v.SourceKind == "" {
		if v.RelativePath != DefaultRelativePath {
			v.SourceKind = SourceFolder
		} else {
			v.SourceKind = SourceFile
		}
	}
	if v.ImportSource == "" {
		switch {
		case v.StorageKind == StorageHandle:
			v.ImportSource = ImportDirectoryHandle
		case v.SourceKind == SourceFolder:
			v.ImportSource = ImportInputFolder
		default:
			v.ImportSource = ImportInputFile
		}
	}
	if v.CreatedAtMs == 0 {
		v.CreatedAtMs = v.LastModifiedMs
	}
	return v
}

// sortNewestFirst orders by import time, then file modification time, then id
// so that listings are stable.
func sortNewestFirst(videos []Video) {
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		if a.CreatedAtMs != b.CreatedAtMs {
			return a.CreatedAtMs > b.CreatedAtMs
		}
		if a.LastModifiedMs != b.LastModifiedMs {
			return a.LastModifiedMs > b.LastModifiedMs
		}
		return a.ID < b.ID
	})
}

// txWriter writes a set of records in one transaction: either all of them
// are committed or none.
type txWriter interface {
	writeTx(ctx context.Context, videos []Video) error
}

// putWithFallback tries the whole slice in one transaction. When that fails it
// retries each record in its own transaction so that as many records as fit
// are persisted. Quota failures end up in NoSpace, anything else in Failed.
// Only an unavailable engine aborts the call.
func putWithFallback(ctx context.Context, w txWriter, videos []Video) (PutResult, error) {
	res := PutResult{Failed: map[string]error{}}
	if len(videos) == 0 {
		return res, nil
	}

	err := Classify(w.writeTx(ctx, videos))
	if err == nil {
		for _, v := range videos {
			res.Stored = append(res.Stored, v.ID)
		}
		return res, nil
	}
	if errors.Is(err, ErrUnavailable) {
		return res, err
	}

	for _, v := range videos {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		one := []Video{v}
		switch perr := Classify(w.writeTx(ctx, one)); {
		case perr == nil:
			res.Stored = append(res.Stored, v.ID)
		case errors.Is(perr, ErrQuotaExceeded):
			res.NoSpace = append(res.NoSpace, v.ID)
		case errors.Is(perr, ErrUnavailable):
			return res, perr
		default:
			res.Failed[v.ID] = perr
		}
	}
	return res, nil
}
