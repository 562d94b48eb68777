package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is the session-only library used when the durable store is
// unavailable. Nothing survives a restart.
type MemoryStorage struct {
	mu          sync.RWMutex
	maxBytes    int64
	usedBytes   int64
	videos      map[string]Video
	chunks      map[string][]byte
	completions map[string]Completion
}

var _ Store = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty store. maxBytes caps the total size of
// blob and chunk payloads; zero means no cap.
func NewMemoryStorage(maxBytes int64) *MemoryStorage {
	return &MemoryStorage{
		maxBytes:    maxBytes,
		videos:      make(map[string]Video),
		chunks:      make(map[string][]byte),
		completions: make(map[string]Completion),
	}
}

func (m *MemoryStorage) Close() error { return nil }

func (m *MemoryStorage) ListAll(ctx context.Context) ([]Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	videos := make([]Video, 0, len(m.videos))
	for _, v := range m.videos {
		v.Blob = nil
		videos = append(videos, Normalize(v))
	}
	sortNewestFirst(videos)
	return videos, nil
}

func (m *MemoryStorage) Get(ctx context.Context, id string) (*Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	v.Blob = nil
	v = Normalize(v)
	return &v, nil
}

func (m *MemoryStorage) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.videos), nil
}

func (m *MemoryStorage) PutMany(ctx context.Context, videos []Video) (PutResult, error) {
	return putWithFallback(ctx, m, videos)
}

// writeTx applies all videos or none.
func (m *MemoryStorage) writeTx(ctx context.Context, videos []Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(0)
	for _, v := range videos {
		if !v.StorageKind.Valid() {
			return ErrUnknownStorageKind{Kind: v.StorageKind}
		}
		delta += v.PayloadSize()
		if old, ok := m.videos[v.ID]; ok {
			delta -= old.PayloadSize()
		}
	}
	if err := m.reserve(delta); err != nil {
		return err
	}

	for _, v := range videos {
		if v.Blob != nil {
			v.Blob = append([]byte(nil), v.Blob...)
		}
		m.videos[v.ID] = v
	}
	m.usedBytes += delta
	return nil
}

func (m *MemoryStorage) reserve(n int64) error {
	if m.maxBytes > 0 && m.usedBytes+n > m.maxBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrQuotaExceeded, m.usedBytes, m.maxBytes)
	}
	return nil
}

func (m *MemoryStorage) PutChunk(ctx context.Context, videoID string, index int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ChunkKey(videoID, index)
	delta := int64(len(data)) - int64(len(m.chunks[key]))
	if err := m.reserve(delta); err != nil {
		return err
	}
	m.chunks[key] = append([]byte(nil), data...)
	m.usedBytes += delta
	return nil
}

func (m *MemoryStorage) GetChunk(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.chunks[key]
	return data, ok, nil
}

func (m *MemoryStorage) ChunkLengths(ctx context.Context, videoID string) (map[int]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ChunkKeyPrefix(videoID)
	lengths := make(map[int]int64)
	for k, data := range m.chunks {
		if i, ok := chunkIndex(k, prefix); ok {
			lengths[i] = int64(len(data))
		}
	}
	return lengths, nil
}

// RemoveChunk drops a single segment. It exists for tests that simulate
// damaged storage.
func (m *MemoryStorage) RemoveChunk(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usedBytes -= int64(len(m.chunks[key]))
	delete(m.chunks, key)
}

// ChunkKeys lists the stored segment keys that start with prefix.
func (m *MemoryStorage) ChunkKeys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.chunks {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (m *MemoryStorage) DeleteChunks(ctx context.Context, videoID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteChunksLocked(videoID)
	return nil
}

func (m *MemoryStorage) deleteChunksLocked(videoID string) {
	prefix := ChunkKeyPrefix(videoID)
	for k, data := range m.chunks {
		if strings.HasPrefix(k, prefix) {
			m.usedBytes -= int64(len(data))
			delete(m.chunks, k)
		}
	}
}

func (m *MemoryStorage) OpenBlob(ctx context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.videos[id]
	if !ok || v.StorageKind != StorageBlob {
		return nil, ErrNotFound
	}
	if v.Blob == nil {
		return []byte{}, nil
	}
	return v.Blob, nil
}

func (m *MemoryStorage) DeleteOne(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.videos[id]
	if !ok {
		return ErrNotFound
	}
	if v.StorageKind == StorageChunks || v.ChunkCount > 0 {
		m.deleteChunksLocked(id)
	}
	m.usedBytes -= v.PayloadSize()
	delete(m.videos, id)
	return nil
}

func (m *MemoryStorage) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.videos = make(map[string]Video)
	m.chunks = make(map[string][]byte)
	m.usedBytes = 0
	return nil
}

func (m *MemoryStorage) RecordCompletion(ctx context.Context, reference, videoID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.completions[reference]; ok {
		return false, nil
	}
	m.completions[reference] = Completion{
		Reference:     reference,
		VideoID:       videoID,
		CompletedAtMs: time.Now().UnixMilli(),
	}
	return true, nil
}

func (m *MemoryStorage) HasCompletion(ctx context.Context, references ...string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ref := range references {
		if _, ok := m.completions[ref]; ok && ref != "" {
			return true, nil
		}
	}
	return false, nil
}
