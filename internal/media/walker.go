package media

import (
	"context"
	"fmt"

	"lorevault/internal/storage"
)

// WalkResult is what a directory walk found.
type WalkResult struct {
	Videos   []File
	Rejected []string
	// Failed holds the relative paths of files that could not be examined.
	// The walk continues past them.
	Failed    []string
	Processed int
}

// Walk enumerates root recursively. Every directory is descended into; files
// that are not video/* are collected in Rejected by name, files that cannot be
// examined in Failed by relative path. Nothing is written
// to the store and nothing is deduplicated.
func Walk(ctx context.Context, root DirHandle) (*WalkResult, error) {
	if err := EnsureReadPermission(ctx, root); err != nil {
		return nil, err
	}

	base := NormalizeRelativePath(root.Name())
	res := &WalkResult{}
	if err := walkDir(ctx, root, base, res); err != nil {
		return nil, err
	}
	return res, nil
}

func walkDir(ctx context.Context, dir DirHandle, relPath string, res *WalkResult) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}

	children, err := listChildren(ctx, dir)
	if err != nil {
		return err
	}

	for _, child := range children {
		switch h := child.(type) {
		case FileHandle:
			res.Processed++
			info, err := h.Stat(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
				}
				res.Failed = append(res.Failed, relPath+"/"+h.Name())
				continue
			}
			if !IsVideoMime(info.MimeType) {
				res.Rejected = append(res.Rejected, h.Name())
				continue
			}
			res.Videos = append(res.Videos, File{
				Name:           h.Name(),
				MimeType:       info.MimeType,
				Size:           info.Size,
				LastModifiedMs: info.LastModifiedMs,
				RelativePath:   relPath,
				FromFolder:     true,
				Handle:         h,
			})
		case DirHandle:
			sub := NormalizeRelativePath(relPath + "/" + h.Name())
			if err := walkDir(ctx, h, sub, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// listChildren accepts either iteration shape a directory handle can offer.
func listChildren(ctx context.Context, dir DirHandle) ([]Handle, error) {
	if l, ok := dir.(EntriesLister); ok {
		entries, err := l.Entries(ctx)
		if err != nil {
			return nil, err
		}
		handles := make([]Handle, 0, len(entries))
		for _, e := range entries {
			handles = append(handles, e.Handle)
		}
		return handles, nil
	}
	if l, ok := dir.(ValuesLister); ok {
		return l.Values(ctx)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, dir.Name())
}

// LiveRecords turns walked files into handle-backed records that are not
// persisted.
func (r *WalkResult) LiveRecords(nowMs int64) []storage.Video {
	videos := make([]storage.Video, 0, len(r.Videos))
	for _, f := range r.Videos {
		videos = append(videos, newRecord(f, storage.ImportDirectoryHandle, nowMs))
	}
	return videos
}
