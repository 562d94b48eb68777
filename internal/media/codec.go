package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"lorevault/internal/storage"
)

const chunkFetchConcurrency = 4

// ChunkCount is the number of fixed-size segments a file of size bytes is
// split into.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Codec splits large files into segments on write and joins them on read.
type Codec struct {
	store  storage.Store
	limits Limits
	logger zerolog.Logger
}

func NewCodec(store storage.Store, limits Limits, logger zerolog.Logger) *Codec {
	return &Codec{
		store:  store,
		limits: limits.withDefaults(),
		logger: logger,
	}
}

// NeedsChunking reports whether a file of size bytes is stored in segments.
func (c *Codec) NeedsChunking(size int64) bool {
	return size > c.limits.ChunkThreshold
}

// Write stores src as segments 0..N-1, in order, and only then commits the
// metadata row. On any failure the segments already written are removed and
// the video is not added.
func (c *Codec) Write(ctx context.Context, rec storage.Video, src io.ReaderAt) (storage.Video, error) {
	n := ChunkCount(rec.SizeBytes, c.limits.ChunkSize)
	rec.StorageKind = storage.StorageChunks
	rec.ChunkCount = n
	rec.Blob = nil

	buf := make([]byte, max(min(c.limits.ChunkSize, rec.SizeBytes), 0))
	for i := 0; i < n; i++ {
		off := int64(i) * c.limits.ChunkSize
		length := c.limits.ChunkSize
		if rest := rec.SizeBytes - off; rest < length {
			length = rest
		}

		part := buf[:length]
		if _, err := io.ReadFull(io.NewSectionReader(src, off, length), part); err != nil {
			c.discard(rec.ID, i)
			return rec, fmt.Errorf("read segment %d of %s: %w", i, rec.Name, err)
		}
		if err := c.store.PutChunk(ctx, rec.ID, i, part); err != nil {
			c.discard(rec.ID, i+1)
			return rec, fmt.Errorf("write segment %d of %s: %w", i, rec.Name, err)
		}
	}

	res, err := c.store.PutMany(ctx, []storage.Video{rec})
	if err == nil {
		switch {
		case len(res.NoSpace) > 0:
			err = storage.ErrQuotaExceeded
		case len(res.Failed) > 0:
			err = res.Failed[rec.ID]
		}
	}
	if err != nil {
		c.discard(rec.ID, n)
		return rec, fmt.Errorf("write metadata of %s: %w", rec.Name, err)
	}

	return rec, nil
}

// discard removes the first count segments of a video whose write failed.
func (c *Codec) discard(videoID string, count int) {
	if count == 0 {
		return
	}
	// The caller's context may be the reason the write failed.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.store.DeleteChunks(ctx, videoID, count); err != nil {
		c.logger.Warn().Err(err).Str("id", videoID).Msg("failed to discard partial segments")
	}
}

// Reconstruct checks that every segment of a chunked video is stored and
// returns a reader over them in index order. Segment data is only fetched
// when a read touches it. A missing segment fails with ErrMissingParts.
func (c *Codec) Reconstruct(ctx context.Context, rec storage.Video) (*Reconstructed, error) {
	if rec.StorageKind != storage.StorageChunks || rec.ChunkCount < 1 {
		return nil, fmt.Errorf("%s is not stored in segments", rec.ID)
	}

	lengths, err := c.store.ChunkLengths(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	offsets := make([]int64, rec.ChunkCount+1)
	var absent []int
	for i := 0; i < rec.ChunkCount; i++ {
		n, ok := lengths[i]
		if !ok {
			absent = append(absent, i)
		}
		offsets[i+1] = offsets[i] + n
	}
	if len(absent) > 0 {
		return nil, fmt.Errorf("%w: %s lacks segments %v of %d", ErrMissingParts, rec.Name, absent, rec.ChunkCount)
	}

	size := offsets[rec.ChunkCount]
	if rec.SizeBytes > 0 && size != rec.SizeBytes {
		c.logger.Warn().
			Str("id", rec.ID).
			Int64("expected", rec.SizeBytes).
			Int64("actual", size).
			Msg("reconstructed size differs from record")
	}

	return &Reconstructed{
		Name:         rec.Name,
		MimeType:     rec.MimeType,
		LastModified: time.UnixMilli(rec.LastModifiedMs),
		Size:         size,
		ctx:          ctx,
		store:        c.store,
		id:           rec.ID,
		offsets:      offsets,
		cachedIndex:  -1,
	}, nil
}

// Reconstructed is a chunked video read back segment by segment. The most
// recently read segment is kept for the next sequential read.
type Reconstructed struct {
	Name         string
	MimeType     string
	LastModified time.Time
	Size         int64

	ctx     context.Context
	store   storage.Store
	id      string
	offsets []int64 // offsets[i] is where segment i starts; the last entry is Size

	mu          sync.Mutex
	cachedIndex int
	cached      []byte
}

func (r *Reconstructed) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("media: negative offset")
	}
	if off >= r.Size {
		return 0, io.EOF
	}
	end := min(off+int64(len(p)), r.Size)
	first, last := r.segmentAt(off), r.segmentAt(end-1)

	parts, err := r.segments(first, last)
	if err != nil {
		return 0, err
	}

	want := int(end - off)
	n := 0
	for i, data := range parts {
		rel := off + int64(n) - r.offsets[first+i]
		if rel > int64(len(data)) {
			return n, fmt.Errorf("%w: segment %d of %s changed size", ErrMissingParts, first+i, r.Name)
		}
		n += copy(p[n:want], data[rel:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *Reconstructed) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached, r.cachedIndex = nil, -1
	return nil
}

// segmentAt returns the index of the segment holding byte off.
func (r *Reconstructed) segmentAt(off int64) int {
	return sort.Search(len(r.offsets)-1, func(i int) bool { return r.offsets[i+1] > off })
}

// segments fetches segments first..last, in parallel when a read spans
// several of them.
func (r *Reconstructed) segments(first, last int) ([][]byte, error) {
	parts := make([][]byte, last-first+1)

	r.mu.Lock()
	if r.cachedIndex >= first && r.cachedIndex <= last {
		parts[r.cachedIndex-first] = r.cached
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(chunkFetchConcurrency)
	for i := range parts {
		if parts[i] != nil {
			continue
		}
		i := i
		g.Go(func() error {
			data, ok, err := r.store.GetChunk(gctx, storage.ChunkKey(r.id, first+i))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s lacks segment %d", ErrMissingParts, r.Name, first+i)
			}
			parts[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cachedIndex, r.cached = last, parts[len(parts)-1]
	r.mu.Unlock()
	return parts, nil
}
