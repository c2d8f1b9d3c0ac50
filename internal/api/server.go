package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"content-analysis-pipeline/internal/blob"
	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/models"
	"content-analysis-pipeline/internal/store"
	"content-analysis-pipeline/internal/telemetry"
)

// JobStore is the slice of persistence intake needs.
type JobStore interface {
	CreateJob(ctx context.Context, id, filename, contentType string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]models.Job, error)
}

// Enqueuer hands a created job id to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Limiter gates uploads per client.
type Limiter interface {
	Allow(ctx context.Context, clientKey string) (bool, error)
}

// Server wires the intake HTTP handlers: upload, status polling, listing.
type Server struct {
	cfg     config.Config
	jobs    JobStore
	queue   Enqueuer
	blobs   blob.ObjectStore
	limiter Limiter
	logger  *slog.Logger
}

// New constructs the intake server. limiter may be nil to disable rate
// limiting.
func New(cfg config.Config, jobs JobStore, q Enqueuer, blobs blob.ObjectStore, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		jobs:    jobs,
		queue:   q,
		blobs:   blobs,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/upload", s.handleUpload)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/files", s.handleList)
	return r
}

// handleUpload accepts a multipart file, stores its bytes keyed by a fresh
// job id, inserts the PENDING record, and enqueues the id for dispatch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, clientKey(r))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	maxBytes := s.cfg.UploadMaxBytes
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing 'file' form field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	id := uuid.NewString()
	if err := s.blobs.Put(ctx, id, data, contentType); err != nil {
		s.logger.Error("store upload failed", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "store upload", http.StatusInternalServerError)
		return
	}

	job, err := s.jobs.CreateJob(ctx, id, header.Filename, contentType)
	if err != nil {
		s.logger.Error("create job failed", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "create job", http.StatusInternalServerError)
		return
	}

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		s.logger.Error("enqueue failed", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "enqueue job", http.StatusInternalServerError)
		return
	}

	telemetry.UploadCounter.Inc()
	s.logger.Info("upload accepted",
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.String("content_type", job.ContentType),
		slog.Int("bytes", len(data)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID, "status": "uploaded"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), 100)
	if err != nil {
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
