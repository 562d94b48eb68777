package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"lorevault/internal/storage"
)

// smallLimits keep the default proportions (threshold = 2 segments) at a
// size tests can afford.
func smallLimits() Limits {
	return Limits{
		MaxItems:       DefaultMaxItems,
		ChunkThreshold: 100,
		ChunkSize:      50,
		BatchSize:      DefaultBatchSize,
		BatchBytes:     DefaultBatchBytes,
	}
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.MaxItems != 5000 || l.ChunkThreshold != 100*MB || l.ChunkSize != 50*MB || l.BatchSize != 250 {
		t.Fatalf("unexpected defaults: %+v", l)
	}
	if got := (Limits{}).withDefaults(); got != l {
		t.Fatalf("withDefaults on zero value = %+v", got)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size, chunk int64
		want        int
	}{
		{150 * MB, 50 * MB, 3},
		{101 * MB, 50 * MB, 3},
		{100, 50, 2},
		{1, 50, 1},
		{0, 50, 1},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size, tt.chunk); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.size, tt.chunk, got, tt.want)
		}
	}
}

func TestCodecNeedsChunking(t *testing.T) {
	c := NewCodec(storage.NewMemoryStorage(0), DefaultLimits(), zerolog.Nop())
	if c.NeedsChunking(100 * MB) {
		t.Error("a file at the threshold must be stored as one blob")
	}
	if !c.NeedsChunking(100*MB + 1) {
		t.Error("a file above the threshold must be chunked")
	}
}

func chunkedRecord(id string, size int64) storage.Video {
	return storage.Video{
		ID:             id,
		Name:           "lecture.mp4",
		MimeType:       "video/mp4",
		SizeBytes:      size,
		LastModifiedMs: 1700000000000,
		CreatedAtMs:    1,
		RelativePath:   DefaultRelativePath,
		SourceKind:     storage.SourceFile,
		StorageKind:    storage.StorageBlob,
		ImportSource:   storage.ImportInputFile,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage(0)
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	data := payload(150)
	rec, err := c.Write(ctx, chunkedRecord("big", 150), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rec.StorageKind != storage.StorageChunks || rec.ChunkCount != 3 {
		t.Fatalf("record = %+v, want 3 chunks", rec)
	}
	if keys := store.ChunkKeys(storage.ChunkKeyPrefix("big")); len(keys) != 3 {
		t.Fatalf("stored chunk keys = %v, want 3", keys)
	}
	for i := 0; i < 3; i++ {
		if _, ok, _ := store.GetChunk(ctx, fmt.Sprintf("big::chunk_%d", i)); !ok {
			t.Errorf("chunk key big::chunk_%d missing", i)
		}
	}

	stored, err := store.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := c.Reconstruct(ctx, *stored)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	got, _ := io.ReadAll(io.NewSectionReader(out, 0, out.Size))
	if !bytes.Equal(got, data) {
		t.Fatalf("reconstructed %d bytes, differs from original", len(got))
	}
	if out.Name != "lecture.mp4" || out.MimeType != "video/mp4" ||
		!out.LastModified.Equal(time.UnixMilli(1700000000000)) || out.Size != 150 {
		t.Fatalf("reconstructed metadata = %+v", out)
	}

	if err := store.DeleteOne(ctx, "big"); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if keys := store.ChunkKeys(storage.ChunkKeyPrefix("big")); len(keys) != 0 {
		t.Fatalf("chunks left after delete: %v", keys)
	}
}

func TestCodecRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "library.db"), storage.Options{})
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	defer store.Close()
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	data := payload(130)
	if _, err := c.Write(ctx, chunkedRecord("big", 130), bytes.NewReader(data)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	stored, err := store.Get(ctx, "big")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ChunkCount != 3 {
		t.Fatalf("chunk count = %d, want 3", stored.ChunkCount)
	}
	out, err := c.Reconstruct(ctx, *stored)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	got, _ := io.ReadAll(io.NewSectionReader(out, 0, out.Size))
	if !bytes.Equal(got, data) {
		t.Fatal("reconstructed bytes differ from original")
	}

	if err := store.DeleteOne(ctx, "big"); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, ok, _ := store.GetChunk(ctx, storage.ChunkKey("big", i)); ok {
			t.Errorf("chunk %d survived delete", i)
		}
	}
}

func TestCodecMissingPart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage(0)
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	rec, err := c.Write(ctx, chunkedRecord("big", 150), bytes.NewReader(payload(150)))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	store.RemoveChunk(storage.ChunkKey("big", 1))

	out, err := c.Reconstruct(ctx, rec)
	if !errors.Is(err, ErrMissingParts) {
		t.Fatalf("Reconstruct error = %v, want ErrMissingParts", err)
	}
	if out != nil {
		t.Fatal("Reconstruct returned a partial video")
	}
}

// failingStore fails PutChunk from a given segment on.
type failingStore struct {
	*storage.MemoryStorage
	failAt int
	err    error
}

func (s *failingStore) PutChunk(ctx context.Context, videoID string, index int, data []byte) error {
	if index >= s.failAt {
		return s.err
	}
	return s.MemoryStorage.PutChunk(ctx, videoID, index, data)
}

func TestCodecWriteFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStorage: storage.NewMemoryStorage(0), failAt: 2, err: errors.New("disk on fire")}
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	_, err := c.Write(ctx, chunkedRecord("big", 150), bytes.NewReader(payload(150)))
	if err == nil {
		t.Fatal("Write succeeded")
	}
	if _, err := store.Get(ctx, "big"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("metadata row written despite failed segment: %v", err)
	}
	if keys := store.ChunkKeys(storage.ChunkKeyPrefix("big")); len(keys) != 0 {
		t.Fatalf("partial segments left behind: %v", keys)
	}
}

func TestCodecWriteShortSource(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage(0)
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	// The record claims more bytes than the source has.
	_, err := c.Write(ctx, chunkedRecord("big", 150), bytes.NewReader(payload(120)))
	if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		t.Fatalf("Write error = %v, want EOF", err)
	}
	if keys := store.ChunkKeys(storage.ChunkKeyPrefix("big")); len(keys) != 0 {
		t.Fatalf("partial segments left behind: %v", keys)
	}
}

// fetchCountingStore counts segment fetches.
type fetchCountingStore struct {
	*storage.MemoryStorage
	mu      sync.Mutex
	fetched []string
}

func (s *fetchCountingStore) GetChunk(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, key)
	s.mu.Unlock()
	return s.MemoryStorage.GetChunk(ctx, key)
}

func TestReconstructReadsOnlyTouchedSegments(t *testing.T) {
	ctx := context.Background()
	store := &fetchCountingStore{MemoryStorage: storage.NewMemoryStorage(0)}
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	data := payload(1000) // 20 segments of 50 bytes
	rec, err := c.Write(ctx, chunkedRecord("big", 1000), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	out, err := c.Reconstruct(ctx, rec)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	defer out.Close()
	if len(store.fetched) != 0 {
		t.Fatalf("Reconstruct fetched %d segments before any read", len(store.fetched))
	}
	if out.Size != 1000 {
		t.Fatalf("size = %d, want 1000", out.Size)
	}

	buf := make([]byte, 10)
	if n, err := out.ReadAt(buf, 0); err != nil || n != 10 || !bytes.Equal(buf, data[:10]) {
		t.Fatalf("ReadAt(0) = %d, %v", n, err)
	}
	if n, err := out.ReadAt(buf, 20); err != nil || n != 10 || !bytes.Equal(buf, data[20:30]) {
		t.Fatalf("ReadAt(20) = %d, %v", n, err)
	}
	if len(store.fetched) != 1 || store.fetched[0] != storage.ChunkKey("big", 0) {
		t.Fatalf("fetched %v, want only segment 0", store.fetched)
	}

	// A read across a boundary touches both neighbours.
	span := make([]byte, 60)
	if n, err := out.ReadAt(span, 495); err != nil || n != 60 || !bytes.Equal(span, data[495:555]) {
		t.Fatalf("ReadAt(495) = %d, %v", n, err)
	}
	if len(store.fetched) != 4 {
		t.Fatalf("fetched %v, want segments 0, 9, 10 and 11", store.fetched)
	}

	n, err := out.ReadAt(buf, 995)
	if err != io.EOF || n != 5 || !bytes.Equal(buf[:n], data[995:]) {
		t.Fatalf("ReadAt at tail = %d, %v", n, err)
	}
	if n, err := out.ReadAt(buf, 1000); err != io.EOF || n != 0 {
		t.Fatalf("ReadAt past end = %d, %v", n, err)
	}
}

func TestReconstructSegmentLostAfterOpen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage(0)
	c := NewCodec(store, smallLimits(), zerolog.Nop())

	rec, err := c.Write(ctx, chunkedRecord("big", 150), bytes.NewReader(payload(150)))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := c.Reconstruct(ctx, rec)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	store.RemoveChunk(storage.ChunkKey("big", 2))

	buf := make([]byte, 10)
	if _, err := out.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt(0): %v", err)
	}
	if _, err := out.ReadAt(buf, 120); !errors.Is(err, ErrMissingParts) {
		t.Fatalf("ReadAt(120) error = %v, want ErrMissingParts", err)
	}
}
