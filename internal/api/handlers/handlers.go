package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dvloznov/donation-tracker/internal/api/middleware"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/gcsuploader"
	"github.com/dvloznov/donation-tracker/internal/ingest"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/sources/manual"
	"github.com/go-chi/chi/v5"
)

// MaxImportBytes caps the size of an uploaded import file.
const MaxImportBytes = 10 << 20

// SourceCatalog exposes the configured sources.
type SourceCatalog interface {
	Source(name string) (config.Source, error)
	ScheduledSources() []config.Source
}

// Inspector reports the watermark and next window of every source.
type Inspector interface {
	Inspect(ctx context.Context) []ingest.Status
}

// Uploader archives import files.
type Uploader interface {
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
}

// RunsHandler handles ingest run endpoints.
type RunsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
	sources   SourceCatalog
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(publisher jobs.Publisher, store jobs.JobStore, sources SourceCatalog) *RunsHandler {
	return &RunsHandler{
		publisher: publisher,
		store:     store,
		sources:   sources,
	}
}

// EnqueueRuns handles POST /api/runs[?source=NAME]
func (h *RunsHandler) EnqueueRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var targets []config.Source
	if name := r.URL.Query().Get("source"); name != "" {
		src, err := h.sources.Source(name)
		if err != nil {
			middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown source %q", name))
			return
		}
		if src.Type == config.KindManual {
			middleware.WriteError(w, http.StatusBadRequest, "Manual sources are imported via /api/imports")
			return
		}
		targets = []config.Source{src}
	} else {
		targets = h.sources.ScheduledSources()
	}

	runs := make([]RunRef, 0, len(targets))
	queued := 0
	for _, src := range targets {
		active, err := h.store.ActiveJob(ctx, jobs.JobTypeIngestSource, src.Name)
		if err == nil {
			runs = append(runs, RunRef{JobID: active.JobID, Source: src.Name, Status: active.Status, Reused: true})
			continue
		}
		if !errors.Is(err, jobs.ErrJobNotFound) {
			log.Error().Err(err).Str("source", src.Name).Msg("Failed to look up active run")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to look up active run")
			return
		}

		job := &jobs.IngestJob{Type: jobs.JobTypeIngestSource, Source: src.Name}
		if err := h.publisher.Publish(ctx, job); err != nil {
			log.Error().Err(err).Str("source", src.Name).Msg("Failed to enqueue ingest job")
			middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue ingest job")
			return
		}
		// The queue owns job now; workers never change its ID.
		runs = append(runs, RunRef{JobID: job.JobID, Source: src.Name, Status: jobs.JobStatusPending})
		queued++
	}

	log.Info().Int("queued", queued).Int("reused", len(runs)-queued).Msg("Ingest runs requested")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"jobs":   runs,
		"count":  len(runs),
		"queued": queued,
	})
}

// RunRef identifies a requested run. Reused is set when the source already
// had an unfinished run, which is returned instead of queueing another.
type RunRef struct {
	JobID  string         `json:"job_id"`
	Source string         `json:"source"`
	Status jobs.JobStatus `json:"status"`
	Reused bool           `json:"reused"`
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get run")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		Source: query.Get("source"),
		Type:   jobs.JobType(query.Get("type")),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	runs, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// SourcesHandler reports per-source watermarks.
type SourcesHandler struct {
	inspector Inspector
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(inspector Inspector) *SourcesHandler {
	return &SourcesHandler{inspector: inspector}
}

type sourceStatus struct {
	Source      string     `json:"source"`
	Kind        string     `json:"kind"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	ColdStart   bool       `json:"cold_start"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ListSources handles GET /api/sources
func (h *SourcesHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	statuses := h.inspector.Inspect(r.Context())

	out := make([]sourceStatus, 0, len(statuses))
	for _, st := range statuses {
		s := sourceStatus{Source: st.Source, Kind: string(st.Kind)}
		if st.Watermark != nil {
			at := st.Watermark.At
			s.Watermark = &at
			s.ColdStart = st.Watermark.ColdStart
		}
		if st.Window != nil {
			start, end := st.Window.Start, st.Window.End
			s.WindowStart, s.WindowEnd = &start, &end
		}
		if st.Err != nil {
			s.Error = st.Err.Error()
		}
		out = append(out, s)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sources": out,
		"count":   len(out),
	})
}

// ImportsHandler accepts manual CSV files.
type ImportsHandler struct {
	publisher jobs.Publisher
	sources   SourceCatalog
	uploader  Uploader
	bucket    string
	prefix    string
	spoolDir  string
	now       func() time.Time
}

// NewImportsHandler creates a new imports handler. Files are archived to
// bucket when it is set and spooled to spoolDir otherwise.
func NewImportsHandler(publisher jobs.Publisher, sources SourceCatalog, uploader Uploader, bucket, prefix, spoolDir string) *ImportsHandler {
	return &ImportsHandler{
		publisher: publisher,
		sources:   sources,
		uploader:  uploader,
		bucket:    bucket,
		prefix:    prefix,
		spoolDir:  spoolDir,
		now:       time.Now,
	}
}

// CreateImport handles POST /api/imports?source=NAME[&filename=...] with a CSV body.
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	name := r.URL.Query().Get("source")
	if name == "" {
		middleware.WriteError(w, http.StatusBadRequest, "source is required")
		return
	}
	if _, err := h.sources.Source(name); err != nil {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown source %q", name))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Import file is too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read import file")
		return
	}

	records, err := manual.Parse(bytes.NewReader(data))
	if err != nil {
		var violation *domain.SchemaViolationError
		if errors.As(err, &violation) {
			middleware.WriteError(w, http.StatusBadRequest, violation.Error())
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid CSV file")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "import.csv"
	}

	file, err := h.stash(ctx, name, filename, data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store import file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store import file")
		return
	}

	job := &jobs.IngestJob{Type: jobs.JobTypeImportFile, Source: name, File: file}
	if err := h.publisher.Publish(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue import job")
		return
	}

	jobID := job.JobID
	log.Info().Str("job_id", jobID).Str("file", file).Int("rows", len(records)).Msg("Import job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"source": name,
		"file":   file,
		"rows":   len(records),
		"status": jobs.JobStatusPending,
	})
}

// stash stores the file where the import job can read it.
func (h *ImportsHandler) stash(ctx context.Context, source, filename string, data []byte) (string, error) {
	if h.bucket != "" && h.uploader != nil {
		object := gcsuploader.ImportObjectName(h.prefix, source, filename, h.now())
		if err := h.uploader.UploadBytes(ctx, h.bucket, object, "text/csv", data); err != nil {
			return "", err
		}
		return fmt.Sprintf("gs://%s/%s", h.bucket, object), nil
	}

	f, err := os.CreateTemp(h.spoolDir, "import-*.csv")
	if err != nil {
		return "", fmt.Errorf("stash: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("stash: %w", err)
	}
	return f.Name(), nil
}
