package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const pageSize = 4096

// Options tune the SQLite store.
type Options struct {
	// MaxSizeBytes caps the database file. Writes beyond it fail with
	// ErrQuotaExceeded. Zero means no cap.
	MaxSizeBytes int64
}

type SQLiteStorage struct {
	db *sql.DB
}

var _ Store = (*SQLiteStorage)(nil)

func NewSQLiteStorage(dbPath string, opts Options) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
		fmt.Sprintf("_pragma=page_size(%d)", pageSize),
	}
	if opts.MaxSizeBytes > 0 {
		pages := opts.MaxSizeBytes / pageSize
		if pages < 1 {
			pages = 1
		}
		pragmas = append(pragmas, fmt.Sprintf("_pragma=max_page_count(%d)", pages))
	}

	db, err := sql.Open("sqlite", dbPath+"?"+strings.Join(pragmas, "&"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// A single connection serializes write transactions, which is the
	// isolation the import pipeline relies on.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return s, nil
}

// Ordered, additive schema steps. The index of a step plus one is the schema
// version it produces.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL,
		last_modified_ms INTEGER NOT NULL,
		created_at_ms INTEGER NOT NULL DEFAULT 0,
		relative_path TEXT NOT NULL DEFAULT '',
		storage_kind TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		blob BLOB
	);

	CREATE TABLE IF NOT EXISTS chunks (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL
	);
	`,
	`
	ALTER TABLE videos ADD COLUMN source_kind TEXT NOT NULL DEFAULT '';
	ALTER TABLE videos ADD COLUMN import_source TEXT NOT NULL DEFAULT '';
	ALTER TABLE videos ADD COLUMN handle_ref TEXT NOT NULL DEFAULT '';

	CREATE INDEX IF NOT EXISTS idx_videos_created ON videos(created_at_ms);
	CREATE INDEX IF NOT EXISTS idx_videos_relative_path ON videos(relative_path);
	CREATE INDEX IF NOT EXISTS idx_videos_storage_kind ON videos(storage_kind);
	`,
	`
	CREATE TABLE IF NOT EXISTS completions (
		reference TEXT PRIMARY KEY,
		video_id TEXT NOT NULL,
		completed_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completions_video ON completions(video_id);
	`,
}

// SchemaVersion is the version a freshly migrated database reports.
var SchemaVersion = len(migrations)

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

const videoColumns = `id, name, mime_type, size_bytes, last_modified_ms, created_at_ms,
	relative_path, source_kind, storage_kind, import_source, chunk_count, handle_ref`

type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(row scanner) (Video, error) {
	var v Video
	var sourceKind, storageKind, importSource string
	err := row.Scan(
		&v.ID, &v.Name, &v.MimeType, &v.SizeBytes, &v.LastModifiedMs, &v.CreatedAtMs,
		&v.RelativePath, &sourceKind, &storageKind, &importSource, &v.ChunkCount, &v.HandleRef,
	)
	if err != nil {
		return v, err
	}
	v.SourceKind = SourceKind(sourceKind)
	v.StorageKind = StorageKind(storageKind)
	v.ImportSource = ImportSource(importSource)
	return Normalize(v), nil
}

// ListAll returns every video, newest first. Blob bytes are not loaded.
func (s *SQLiteStorage) ListAll(ctx context.Context) ([]Video, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+videoColumns+" FROM videos")
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	var videos []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}

	sortNewestFirst(videos)
	return videos, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, id string) (*Video, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = ?", id)
	v, err := scanVideo(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Classify(err)
	}
	return &v, nil
}

func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM videos").Scan(&n); err != nil {
		return 0, Classify(err)
	}
	return n, nil
}

// PutMany upserts videos, one transaction for the batch when possible.
func (s *SQLiteStorage) PutMany(ctx context.Context, videos []Video) (PutResult, error) {
	return putWithFallback(ctx, s, videos)
}

func (s *SQLiteStorage) writeTx(ctx context.Context, videos []Video) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO videos (
			id, name, mime_type, size_bytes, last_modified_ms, created_at_ms,
			relative_path, source_kind, storage_kind, import_source, chunk_count, handle_ref, blob
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			mime_type = excluded.mime_type,
			relative_path = excluded.relative_path,
			source_kind = excluded.source_kind,
			storage_kind = excluded.storage_kind,
			import_source = excluded.import_source,
			chunk_count = excluded.chunk_count,
			handle_ref = excluded.handle_ref,
			blob = excluded.blob
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, v := range videos {
		var blob any
		switch v.StorageKind {
		case StorageBlob:
			if v.Blob == nil {
				blob = []byte{}
			} else {
				blob = v.Blob
			}
		case StorageChunks, StorageHandle:
		default:
			tx.Rollback()
			return ErrUnknownStorageKind{Kind: v.StorageKind}
		}

		if _, err := stmt.ExecContext(ctx,
			v.ID, v.Name, v.MimeType, v.SizeBytes, v.LastModifiedMs, v.CreatedAtMs,
			v.RelativePath, string(v.SourceKind), string(v.StorageKind), string(v.ImportSource),
			v.ChunkCount, v.HandleRef, blob,
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Chunks

func (s *SQLiteStorage) PutChunk(ctx context.Context, videoID string, index int, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO chunks (key, data) VALUES (?, ?)",
		ChunkKey(videoID, index), data,
	)
	return Classify(err)
}

func (s *SQLiteStorage) GetChunk(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM chunks WHERE key = ?", key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Classify(err)
	}
	return data, true, nil
}

func (s *SQLiteStorage) ChunkLengths(ctx context.Context, videoID string) (map[int]int64, error) {
	prefix := ChunkKeyPrefix(videoID)
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, length(data) FROM chunks WHERE substr(key, 1, ?) = ?",
		len(prefix), prefix,
	)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	lengths := make(map[int]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, Classify(err)
		}
		if i, ok := chunkIndex(key, prefix); ok {
			lengths[i] = n
		}
	}
	return lengths, Classify(rows.Err())
}

// DeleteChunks removes segments 0..count-1 of videoID and any stray segment
// sharing its key prefix, in one transaction.
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, videoID string, count int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	if err := deleteChunksTx(ctx, tx, videoID, count); err != nil {
		tx.Rollback()
		return Classify(err)
	}
	return Classify(tx.Commit())
}

func deleteChunksTx(ctx context.Context, tx *sql.Tx, videoID string, count int) error {
	for i := 0; i < count; i++ {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE key = ?", ChunkKey(videoID, i)); err != nil {
			return err
		}
	}
	prefix := ChunkKeyPrefix(videoID)
	_, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE substr(key, 1, ?) = ?",
		len(prefix), prefix,
	)
	return err
}

func (s *SQLiteStorage) OpenBlob(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT blob FROM videos WHERE id = ? AND blob IS NOT NULL", id,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Classify(err)
	}
	return blob, nil
}

// DeleteOne removes a video. Chunk rows of a chunked video are deleted before
// its metadata row, inside the same transaction.
func (s *SQLiteStorage) DeleteOne(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err)
	}

	var storageKind string
	var chunkCount int
	err = tx.QueryRowContext(ctx,
		"SELECT storage_kind, chunk_count FROM videos WHERE id = ?", id,
	).Scan(&storageKind, &chunkCount)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return Classify(err)
	}

	if StorageKind(storageKind) == StorageChunks || chunkCount > 0 {
		if err := deleteChunksTx(ctx, tx, id, chunkCount); err != nil {
			tx.Rollback()
			return Classify(err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id); err != nil {
		tx.Rollback()
		return Classify(err)
	}

	return Classify(tx.Commit())
}

// ClearAll empties the videos and chunks tables. The completion ledger is
// kept.
func (s *SQLiteStorage) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	for _, table := range []string{"chunks", "videos"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			tx.Rollback()
			return Classify(err)
		}
	}
	return Classify(tx.Commit())
}

// Completions

// RecordCompletion stores reference once. It reports false when the
// reference was already recorded.
func (s *SQLiteStorage) RecordCompletion(ctx context.Context, reference, videoID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO completions (reference, video_id, completed_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(reference) DO NOTHING
	`, reference, videoID, time.Now().UnixMilli())
	if err != nil {
		return false, Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasCompletion reports whether any of references has been recorded.
func (s *SQLiteStorage) HasCompletion(ctx context.Context, references ...string) (bool, error) {
	for _, ref := range references {
		if ref == "" {
			continue
		}
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM completions WHERE reference = ?", ref,
		).Scan(&n); err != nil {
			return false, Classify(err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
