package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"lorevault/internal/bridge"
	"lorevault/internal/media"
	"lorevault/internal/progress"
	"lorevault/internal/storage"
	"lorevault/internal/streaming"
)

const Version = "0.2.0"

// Deps are the collaborators of a Handler.
type Deps struct {
	Store       storage.Store
	Importer    *media.Importer
	Queue       *media.ImportQueue
	Resolver    *progress.Resolver
	Tracker     *progress.Tracker
	Bridge      *bridge.Client // nil when no remote Bridge is configured
	LibraryName string
	Persistent  bool
	MaxUpload   int64
}

type Handler struct {
	deps     Deps
	logger   zerolog.Logger
	streamer *streaming.Handler
}

func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		deps:     deps,
		logger:   logger,
		streamer: streaming.NewHandler(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    Version,
		Persistent: h.deps.Persistent,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLibrary returns the library grouped by folder.
func (h *Handler) GetLibrary(w http.ResponseWriter, r *http.Request) {
	videos, err := h.deps.Store.ListAll(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list library")
		h.writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	opts := ViewOptions{
		Query:       q.Get("q"),
		StorageKind: storage.StorageKind(q.Get("kind")),
		Sort:        SortOrder(q.Get("sort")),
	}
	if opts.StorageKind != "" && !opts.StorageKind.Valid() {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Unknown storage kind")
		return
	}

	writeJSON(w, http.StatusOK, BuildLibraryView(h.deps.LibraryName, videos, opts))
}

func (h *Handler) ClearLibrary(w http.ResponseWriter, r *http.Request) {
	if h.deps.Queue.IsRunning() {
		writeError(w, http.StatusConflict, "IMPORT_IN_PROGRESS", "Wait for the running import to finish")
		return
	}
	if err := h.deps.Store.ClearAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to clear library")
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info().Msg("library cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ImportDirectory starts a background import of a local or Bridge directory.
func (h *Handler) ImportDirectory(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	root, ok := h.dirHandle(w, req.Path, req.Remote)
	if !ok {
		return
	}
	label := req.Path
	if req.Remote {
		label = "bridge:" + req.Path
	}

	link := req.Link
	job, started := h.deps.Queue.Start(label, func(ctx context.Context) (*media.ImportResult, error) {
		return h.deps.Importer.ImportDirectory(ctx, root, link)
	})
	if !started {
		writeJSON(w, http.StatusOK, ImportResponse{
			Status:  "in_progress",
			Message: "Import already in progress",
			Job:     &job,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, ImportResponse{
		Status:  "started",
		Message: "Import started",
		Job:     &job,
	})
}

// BrowseDirectory walks a local or Bridge directory and returns what it
// holds as live, handle-backed entries. Nothing is stored.
func (h *Handler) BrowseDirectory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	root, ok := h.dirHandle(w, q.Get("path"), q.Get("remote") == "true")
	if !ok {
		return
	}

	walked, err := media.Walk(r.Context(), root)
	if err != nil {
		h.logger.Warn().Err(err).Str("path", q.Get("path")).Msg("failed to browse directory")
		h.writeMediaError(w, err)
		return
	}

	view := BuildLibraryView(root.Name(), walked.LiveRecords(time.Now().UnixMilli()), ViewOptions{Sort: SortByName})
	writeJSON(w, http.StatusOK, BrowseResponse{
		LibraryView: view,
		Rejected:    walked.Rejected,
		Failed:      walked.Failed,
		Processed:   walked.Processed,
	})
}

// dirHandle opens p on this machine, or through the Bridge when remote is
// set, writing the error response itself on failure.
func (h *Handler) dirHandle(w http.ResponseWriter, p string, remote bool) (media.DirHandle, bool) {
	if remote {
		if h.deps.Bridge == nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "No bridge configured")
			return nil, false
		}
		return h.deps.Bridge.Root(p), true
	}
	if p == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Path is required")
		return nil, false
	}
	dir, err := media.NewOSDir(p)
	if err != nil {
		h.writeMediaError(w, err)
		return nil, false
	}
	return dir, true
}

// ListImportJobs returns recent imports, including those started by the
// directory watcher.
func (h *Handler) ListImportJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: h.deps.Queue.Jobs()})
}

func (h *Handler) GetImportJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.deps.Queue.Get(chi.URLParam(r, "job"))
	if !ok {
		writeError(w, http.StatusNotFound, "JOB_NOT_FOUND", "Import job not found")
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Status: string(job.Status), Job: &job, Result: job.Result})
}

// UploadFiles imports files sent as multipart parts named "files". An
// optional "paths" value per file carries its folder-relative path and
// "last_modified" its modification time in milliseconds.
func (h *Handler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	if h.deps.MaxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUpload)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusOK, ImportResponse{Status: "cancelled", Message: "No files selected"})
		return
	}
	paths := r.MultipartForm.Value["paths"]
	modified := r.MultipartForm.Value["last_modified"]

	files := make([]media.File, len(headers))
	for i, fh := range headers {
		f := media.File{
			Name:           fh.Filename,
			MimeType:       fh.Header.Get("Content-Type"),
			Size:           fh.Size,
			LastModifiedMs: time.Now().UnixMilli(),
			Opener:         multipartOpener{fh},
		}
		if f.MimeType == "" || f.MimeType == "application/octet-stream" {
			f.MimeType = media.GetContentType(fh.Filename)
		}
		if i < len(paths) && paths[i] != "" {
			f.RelativePath = media.FolderFromFilePath(paths[i], fh.Filename)
			f.FromFolder = true
		}
		if i < len(modified) {
			if ms, err := strconv.ParseInt(modified[i], 10, 64); err == nil {
				f.LastModifiedMs = ms
			}
		}
		files[i] = f
	}

	job, started := h.deps.Queue.Start("upload", func(ctx context.Context) (*media.ImportResult, error) {
		return h.deps.Importer.Import(ctx, files, storage.ImportInputFile)
	})
	if !started {
		writeJSON(w, http.StatusOK, ImportResponse{Status: "in_progress", Message: "Import already in progress", Job: &job})
		return
	}

	// Uploaded parts live only as long as this request.
	done, err := h.deps.Queue.Wait(r.Context(), job.ID)
	if err != nil {
		h.deps.Queue.Cancel()
		h.deps.Queue.Wait(context.Background(), job.ID)
		writeJSON(w, http.StatusOK, ImportResponse{Status: "cancelled", Job: &job})
		return
	}

	status := http.StatusOK
	if done.Status == media.JobFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ImportResponse{Status: string(done.Status), Message: done.Summary, Job: &done, Result: done.Result})
}

type multipartOpener struct {
	fh *multipart.FileHeader
}

func (o multipartOpener) Open(ctx context.Context) (media.Content, error) {
	return o.fh.Open()
}

// Videos

// videoID returns the {id} route parameter. Ids contain slashes, so clients
// send them path-escaped.
func videoID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func (h *Handler) video(w http.ResponseWriter, r *http.Request) (*storage.Video, bool) {
	id := videoID(r)
	v, err := h.deps.Store.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error().Err(err).Str("id", id).Msg("failed to get video")
		}
		h.writeStoreError(w, err)
		return nil, false
	}
	return v, true
}

func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	v, ok := h.video(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MediaResponse{
		Video:     v,
		StreamURL: "/api/v1/videos/" + url.PathEscape(v.ID) + "/stream",
	})
}

func (h *Handler) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	id := videoID(r)
	if err := h.deps.Store.DeleteOne(r.Context(), id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Error().Err(err).Str("id", id).Msg("failed to delete video")
		}
		h.writeStoreError(w, err)
		return
	}
	h.deps.Resolver.Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	v, ok := h.video(w, r)
	if !ok {
		return
	}

	content, err := h.deps.Resolver.Open(r.Context(), *v)
	if err != nil {
		h.logger.Warn().Err(err).Str("id", v.ID).Msg("video not playable")
		h.writeMediaError(w, err)
		return
	}
	defer content.Close()

	h.streamer.ServeContent(w, r, v.Name, v.MimeType, time.UnixMilli(v.LastModifiedMs), v.SizeBytes, content)
}

func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	v, ok := h.video(w, r)
	if !ok {
		return
	}

	ref, err := h.deps.Tracker.Resolve(r.Context(), *v)
	if err != nil {
		h.writeMediaError(w, err)
		return
	}
	completed, err := h.deps.Tracker.IsCompleted(r.Context(), *v)
	if err != nil {
		h.logger.Error().Err(err).Str("id", v.ID).Msg("failed to check completion")
		writeError(w, http.StatusBadGateway, "LEDGER_ERROR", "Failed to check progress")
		return
	}

	writeJSON(w, http.StatusOK, ReferenceResponse{
		VideoID:   v.ID,
		Reference: ref.Value,
		Tier:      ref.Tier,
		Completed: completed,
	})
}

func (h *Handler) CompleteVideo(w http.ResponseWriter, r *http.Request) {
	v, ok := h.video(w, r)
	if !ok {
		return
	}

	c, err := h.deps.Tracker.Complete(r.Context(), *v)
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) || errors.Is(err, media.ErrMissingParts) {
			h.writeMediaError(w, err)
			return
		}
		h.logger.Error().Err(err).Str("id", v.ID).Msg("failed to record completion")
		writeError(w, http.StatusBadGateway, "LEDGER_ERROR", "Failed to record progress")
		return
	}

	writeJSON(w, http.StatusOK, CompleteResponse{
		VideoID:   v.ID,
		Reference: c.Reference.Value,
		Tier:      c.Reference.Tier,
		Recorded:  c.Recorded,
	})
}

// GetProgress answers whether a reference, in any of its schemes, has been
// completed.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	ref, err := progress.ParseReference(r.URL.Query().Get("reference"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REFERENCE", err.Error())
		return
	}

	completed, err := h.deps.Tracker.Lookup(r.Context(), ref)
	if err != nil {
		h.logger.Error().Err(err).Str("reference", ref.Value).Msg("failed to check completion")
		writeError(w, http.StatusBadGateway, "LEDGER_ERROR", "Failed to check progress")
		return
	}

	writeJSON(w, http.StatusOK, ProgressResponse{
		Reference: ref.Value,
		Tier:      ref.Tier,
		Completed: completed,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "VIDEO_NOT_FOUND", "Video not found")
	case errors.Is(err, storage.ErrQuotaExceeded):
		writeError(w, http.StatusInsufficientStorage, "NO_SPACE", "Not enough storage space")
	case errors.Is(err, storage.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Library storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Storage error")
	}
}

func (h *Handler) writeMediaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "PERMISSION_NEEDED", "Read permission needed")
	case errors.Is(err, media.ErrMissingParts):
		writeError(w, http.StatusUnprocessableEntity, "MISSING_PARTS", "Video is corrupted or missing parts")
	case errors.Is(err, media.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "UNSUPPORTED", "Directory reading not supported, use a folder upload")
	case errors.Is(err, media.ErrCancelled):
		writeJSON(w, http.StatusOK, ImportResponse{Status: "cancelled"})
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found")
	default:
		h.writeStoreError(w, err)
	}
}
