package progress

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/rs/zerolog"
	"lorevault/internal/cache"
	"lorevault/internal/media"
	"lorevault/internal/storage"
)

// DefaultSampleWindow is the size of each of the head, middle and tail
// regions that are hashed.
const DefaultSampleWindow int64 = 64 * 1024

// ResolverOptions configure a Resolver.
type ResolverOptions struct {
	SampleWindow int64
	// NewHash builds the digest. Nil means no digest is available and
	// every reference is metadata-only.
	NewHash func() hash.Hash
	// CacheCapacity bounds the number of memoized references.
	CacheCapacity int
}

func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		SampleWindow:  DefaultSampleWindow,
		NewHash:       sha256.New,
		CacheCapacity: 4096,
	}
}

// Resolver computes content references for library videos.
type Resolver struct {
	store   storage.Store
	codec   *media.Codec
	handles *media.Handles
	opts    ResolverOptions
	cache   *cache.LRUCache[Reference]
	logger  zerolog.Logger
}

func NewResolver(store storage.Store, codec *media.Codec, handles *media.Handles, opts ResolverOptions, logger zerolog.Logger) *Resolver {
	if opts.SampleWindow <= 0 {
		opts.SampleWindow = DefaultSampleWindow
	}
	return &Resolver{
		store:   store,
		codec:   codec,
		handles: handles,
		opts:    opts,
		cache:   cache.NewLRUCache[Reference](opts.CacheCapacity, 0, nil),
		logger:  logger,
	}
}

// Resolve returns the strong reference of v when its bytes can be sampled
// and a digest is available, and the weak metadata reference otherwise.
// A handle whose read permission is refused, or a chunked video with
// missing segments, fails instead of degrading.
func (r *Resolver) Resolve(ctx context.Context, v storage.Video) (Reference, error) {
	// Permission can be revoked after a reference was memoized.
	if v.StorageKind == storage.StorageHandle {
		if _, err := r.readableHandle(ctx, v); errors.Is(err, media.ErrPermissionDenied) {
			return Reference{}, err
		}
	}
	if ref, ok := r.cache.Get(v.ID); ok {
		return ref, nil
	}

	if r.opts.NewHash == nil {
		return weakReference(v), nil
	}

	content, err := r.open(ctx, v)
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) || errors.Is(err, media.ErrMissingParts) {
			return Reference{}, err
		}
		var unknown storage.ErrUnknownStorageKind
		if errors.As(err, &unknown) {
			return Reference{}, err
		}
		r.logger.Warn().Err(err).Str("id", v.ID).Msg("content unreadable, using metadata reference")
		return weakReference(v), nil
	}
	defer content.Close()

	digest, err := r.digest(v, content)
	if err != nil {
		r.logger.Warn().Err(err).Str("id", v.ID).Msg("content sampling failed, using metadata reference")
		return weakReference(v), nil
	}

	ref := strongReference(digest)
	r.cache.Set(v.ID, ref)
	return ref, nil
}

// Forget drops the memoized reference of a video.
func (r *Resolver) Forget(id string) {
	r.cache.Delete(id)
}

// Open returns the bytes of v whatever its storage kind.
func (r *Resolver) Open(ctx context.Context, v storage.Video) (media.Content, error) {
	return r.open(ctx, v)
}

func (r *Resolver) open(ctx context.Context, v storage.Video) (media.Content, error) {
	switch v.StorageKind {
	case storage.StorageBlob:
		data, err := r.store.OpenBlob(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		return nopCloser{bytes.NewReader(data)}, nil
	case storage.StorageChunks:
		rc, err := r.codec.Reconstruct(ctx, v)
		if err != nil {
			return nil, err
		}
		return rc, nil
	case storage.StorageHandle:
		h, err := r.readableHandle(ctx, v)
		if err != nil {
			return nil, err
		}
		return h.Open(ctx)
	default:
		return nil, storage.ErrUnknownStorageKind{Kind: v.StorageKind}
	}
}

func (r *Resolver) readableHandle(ctx context.Context, v storage.Video) (media.FileHandle, error) {
	h, err := r.handles.Resolve(v.HandleRef)
	if err != nil {
		return nil, err
	}
	if err := media.EnsureReadPermission(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// digest hashes a header of size, modification time and type followed by
// the head, middle and tail windows of the content.
func (r *Resolver) digest(v storage.Video, content io.ReaderAt) (string, error) {
	h := r.opts.NewHash()
	fmt.Fprintf(h, "%d:%d:%s\n", v.SizeBytes, v.LastModifiedMs, v.MimeType)

	for _, region := range sampleRegions(v.SizeBytes, r.opts.SampleWindow) {
		n, err := io.Copy(h, io.NewSectionReader(content, region[0], region[1]))
		if err != nil {
			return "", err
		}
		if n != region[1] {
			return "", io.ErrUnexpectedEOF
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sampleRegions returns [offset, length] pairs for head, middle and tail.
func sampleRegions(size, window int64) [][2]int64 {
	if size <= 0 {
		return nil
	}
	w := min(window, size)
	mid := max((size-w)/2, 0)
	return [][2]int64{
		{0, w},
		{mid, w},
		{size - w, w},
	}
}
