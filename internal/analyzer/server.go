package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"content-analysis-pipeline/internal/blob"
	"content-analysis-pipeline/internal/models"
	"content-analysis-pipeline/internal/store"
)

// JobStore is the slice of persistence the analyzer needs: resolving a job
// and writing its terminal state.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkDone(ctx context.Context, id, result string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
}

// ModelClient produces the analysis text for each category.
type ModelClient interface {
	SummarizeDocument(ctx context.Context, filename string, data []byte) (string, error)
	DescribeImage(ctx context.Context, data []byte, contentType string) (string, error)
}

// Server hosts the analysis endpoints invoked by the dispatcher. Handlers
// write the terminal status and result back to the job store themselves;
// duplicate invocations are tolerated because the first terminal write wins
// and later ones no-op.
type Server struct {
	jobs   JobStore
	blobs  blob.ObjectStore
	model  ModelClient
	logger *slog.Logger
}

func New(jobs JobStore, blobs blob.ObjectStore, model ModelClient, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{jobs: jobs, blobs: blobs, model: model, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Post("/analyze-text/{id}", s.handleAnalyzeText)
	r.Post("/analyze-image/{id}", s.handleAnalyzeImage)
	return r
}

func (s *Server) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	s.analyze(w, r, func(ctx context.Context, job models.Job, data []byte) (string, error) {
		return s.model.SummarizeDocument(ctx, job.Filename, data)
	})
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	s.analyze(w, r, func(ctx context.Context, job models.Job, data []byte) (string, error) {
		return s.model.DescribeImage(ctx, data, job.ContentType)
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request, run func(context.Context, models.Job, []byte) (string, error)) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	job, err := s.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("job lookup failed", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	data, err := s.blobs.Get(ctx, id)
	if err != nil {
		s.logger.Error("fetch upload failed", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "upload unavailable", http.StatusInternalServerError)
		return
	}

	result, err := run(ctx, job, data)
	if err != nil {
		s.logger.Error("analysis failed", slog.String("job_id", id), slog.String("error", err.Error()))
		if _, markErr := s.jobs.MarkFailed(ctx, id, models.ReasonAnalysisError); markErr != nil {
			s.logger.Error("mark failed errored", slog.String("job_id", id), slog.String("error", markErr.Error()))
		}
		http.Error(w, "analysis failed", http.StatusBadGateway)
		return
	}

	advanced, err := s.jobs.MarkDone(ctx, id, result)
	if err != nil {
		s.logger.Error("mark done errored", slog.String("job_id", id), slog.String("error", err.Error()))
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if !advanced {
		// A concurrent invocation or the dispatcher already closed the job.
		s.logger.Info("job already terminal", slog.String("job_id", id))
	}

	s.logger.Info("analysis complete",
		slog.String("job_id", id),
		slog.Int("result_chars", len(result)),
	)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "result": result})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
