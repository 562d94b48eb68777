package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"lorevault/internal/storage"
)

// ImportResult is the outcome of one import call. Names are file names as
// given by the source.
type ImportResult struct {
	Added          []storage.Video `json:"added"`
	Ignored        []string        `json:"ignored"`
	Rejected       []string        `json:"rejected"`
	SkippedNoSpace []string        `json:"skipped_no_space"`
	SkippedByLimit []string        `json:"skipped_by_limit"`
	// Failed lists files that could not be stored for reasons other than
	// space. They are logged and do not stop the rest of the batch.
	Failed    []string `json:"failed"`
	Processed int      `json:"processed"`
}

// Summary renders the counts for a status line.
func (r *ImportResult) Summary() string {
	parts := []string{fmt.Sprintf("%d added", len(r.Added))}
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(len(r.Ignored), "already in library")
	add(len(r.Rejected), "not video")
	add(len(r.SkippedNoSpace), "skipped, no space")
	add(len(r.SkippedByLimit), "skipped, library full")
	add(len(r.Failed), "failed")
	return fmt.Sprintf("%s (of %d processed)", strings.Join(parts, ", "), r.Processed)
}

// FolderCount is the number of distinct folders among the added videos.
func (r *ImportResult) FolderCount() int {
	seen := make(map[string]struct{})
	for _, v := range r.Added {
		seen[v.RelativePath] = struct{}{}
	}
	return len(seen)
}

type Importer struct {
	store  storage.Store
	codec  *Codec
	limits Limits
	logger zerolog.Logger
	now    func() time.Time
}

func NewImporter(store storage.Store, limits Limits, logger zerolog.Logger) *Importer {
	limits = limits.withDefaults()
	return &Importer{
		store:  store,
		codec:  NewCodec(store, limits, logger),
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Codec returns the segment codec the importer writes through.
func (i *Importer) Codec() *Codec {
	return i.codec
}

type candidate struct {
	file File
	rec  storage.Video
}

// Import adds files to the library. Duplicates, non-video files, files over
// the item ceiling and files that do not fit are reported in the result
// rather than failing the call. Only an unavailable store, or cancellation,
// returns an error, together with whatever was achieved up to that point.
//
// Calls must not run concurrently against the same store.
func (i *Importer) Import(ctx context.Context, files []File, source storage.ImportSource) (*ImportResult, error) {
	res := &ImportResult{Processed: len(files)}

	var videos []File
	for _, f := range files {
		if IsVideoMime(f.MimeType) {
			videos = append(videos, f)
		} else {
			res.Rejected = append(res.Rejected, f.Name)
		}
	}
	if len(videos) == 0 {
		return res, nil
	}

	existing, err := i.store.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("load library: %w", err)
	}
	known := make(map[string]struct{}, len(existing)*2)
	for _, v := range existing {
		known[v.ID] = struct{}{}
		if v.RelativePath == DefaultRelativePath {
			known[LegacyVideoID(v.Name, v.SizeBytes, v.LastModifiedMs)] = struct{}{}
		}
	}

	nowMs := i.now().UnixMilli()
	pending := make(map[string]struct{})
	accepted := 0
	var plain, chunked []candidate

	for _, f := range videos {
		rec := newRecord(f, source, nowMs)
		legacy := LegacyVideoID(f.Name, f.Size, f.LastModifiedMs)

		if _, ok := known[rec.ID]; ok {
			res.Ignored = append(res.Ignored, f.Name)
			continue
		}
		if _, ok := known[legacy]; ok {
			res.Ignored = append(res.Ignored, f.Name)
			continue
		}
		if _, ok := pending[rec.ID]; ok {
			res.Ignored = append(res.Ignored, f.Name)
			continue
		}

		if len(existing)+accepted >= i.limits.MaxItems {
			res.SkippedByLimit = append(res.SkippedByLimit, f.Name)
			continue
		}

		pending[rec.ID] = struct{}{}
		accepted++

		c := candidate{file: f, rec: rec}
		if rec.StorageKind != storage.StorageHandle && i.codec.NeedsChunking(f.Size) {
			chunked = append(chunked, c)
		} else {
			plain = append(plain, c)
		}
	}

	if err := i.writePlain(ctx, plain, res); err != nil {
		return res, err
	}
	if err := i.writeChunked(ctx, chunked, res); err != nil {
		return res, err
	}

	i.logger.Info().
		Str("source", string(source)).
		Int("processed", res.Processed).
		Int("added", len(res.Added)).
		Int("ignored", len(res.Ignored)).
		Int("rejected", len(res.Rejected)).
		Int("no_space", len(res.SkippedNoSpace)).
		Int("by_limit", len(res.SkippedByLimit)).
		Int("failed", len(res.Failed)).
		Msg("import finished")

	return res, nil
}

// newRecord builds the stored shape of f. Files that carry a live handle are
// linked; everything else is a blob until the codec decides otherwise. A file
// picked from a folder keeps that origin even in a batch of loose files.
func newRecord(f File, source storage.ImportSource, nowMs int64) storage.Video {
	relPath := NormalizeRelativePath(f.RelativePath)
	if source == storage.ImportInputFile && f.FromFolder {
		source = storage.ImportInputFolder
	}

	sourceKind := storage.SourceFile
	if f.FromFolder || source == storage.ImportInputFolder || source == storage.ImportDirectoryHandle {
		sourceKind = storage.SourceFolder
	}

	rec := storage.Video{
		ID:             VideoID(relPath, f.Name, f.Size, f.LastModifiedMs),
		Name:           f.Name,
		MimeType:       f.MimeType,
		SizeBytes:      f.Size,
		LastModifiedMs: f.LastModifiedMs,
		CreatedAtMs:    nowMs,
		RelativePath:   relPath,
		SourceKind:     sourceKind,
		StorageKind:    storage.StorageBlob,
		ImportSource:   source,
	}
	if f.Handle != nil && source == storage.ImportDirectoryHandle {
		rec.StorageKind = storage.StorageHandle
		rec.HandleRef = f.Handle.Ref()
	}
	return rec
}

// writePlain stores blob and handle records in batches bounded by count and
// payload size.
func (i *Importer) writePlain(ctx context.Context, items []candidate, res *ImportResult) error {
	var batch []candidate
	var batchBytes int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := i.putBatch(ctx, batch, res)
		batch, batchBytes = batch[:0], 0
		return err
	}

	for _, c := range items {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		if c.rec.StorageKind == storage.StorageBlob {
			data, err := readAll(ctx, c.file)
			if err != nil {
				i.logger.Warn().Err(err).Str("name", c.file.Name).Msg("failed to read file, skipping")
				res.Failed = append(res.Failed, c.file.Name)
				continue
			}
			c.rec.Blob = data
			batchBytes += int64(len(data))
		}

		batch = append(batch, c)
		if len(batch) >= i.limits.BatchSize || batchBytes >= i.limits.BatchBytes {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (i *Importer) putBatch(ctx context.Context, batch []candidate, res *ImportResult) error {
	recs := make([]storage.Video, len(batch))
	byID := make(map[string]candidate, len(batch))
	for n, c := range batch {
		recs[n] = c.rec
		byID[c.rec.ID] = c
	}

	put, err := i.store.PutMany(ctx, recs)
	for _, id := range put.Stored {
		rec := byID[id].rec
		rec.Blob = nil
		res.Added = append(res.Added, rec)
	}
	for _, id := range put.NoSpace {
		res.SkippedNoSpace = append(res.SkippedNoSpace, byID[id].file.Name)
	}
	for id, ferr := range put.Failed {
		i.logger.Warn().Err(ferr).Str("name", byID[id].file.Name).Msg("failed to store video, skipping")
		res.Failed = append(res.Failed, byID[id].file.Name)
	}
	if err != nil {
		return fmt.Errorf("store batch: %w", err)
	}
	return nil
}

// writeChunked stores large files one at a time, each in its own sequence of
// transactions.
func (i *Importer) writeChunked(ctx context.Context, items []candidate, res *ImportResult) error {
	for _, c := range items {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		rec, err := i.writeOneChunked(ctx, c)
		switch {
		case err == nil:
			res.Added = append(res.Added, rec)
		case errors.Is(err, storage.ErrQuotaExceeded):
			res.SkippedNoSpace = append(res.SkippedNoSpace, c.file.Name)
		case errors.Is(err, storage.ErrUnavailable):
			return err
		default:
			i.logger.Warn().Err(err).Str("name", c.file.Name).Msg("failed to store large video, skipping")
			res.Failed = append(res.Failed, c.file.Name)
		}
	}
	return nil
}

func (i *Importer) writeOneChunked(ctx context.Context, c candidate) (storage.Video, error) {
	content, err := c.file.open(ctx)
	if err != nil {
		return c.rec, err
	}
	defer content.Close()
	return i.codec.Write(ctx, c.rec, content)
}

// ImportDirectory walks root and imports what it finds. Linked imports keep
// the bytes where they are; otherwise they are copied into the store.
func (i *Importer) ImportDirectory(ctx context.Context, root DirHandle, link bool) (*ImportResult, error) {
	walked, err := Walk(ctx, root)
	if err != nil {
		return nil, err
	}

	source := storage.ImportDirectoryHandle
	files := walked.Videos
	if !link {
		source = storage.ImportInputFolder
		files = make([]File, len(walked.Videos))
		for n, f := range walked.Videos {
			f.Opener, f.Handle = f.Handle, nil
			files[n] = f
		}
	}

	for _, p := range walked.Failed {
		i.logger.Warn().Str("path", p).Msg("cannot read file, skipping")
	}

	res, err := i.Import(ctx, files, source)
	if res != nil {
		res.Rejected = append(walked.Rejected, res.Rejected...)
		res.Failed = append(walked.Failed, res.Failed...)
		res.Processed = walked.Processed
	}
	return res, err
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}
