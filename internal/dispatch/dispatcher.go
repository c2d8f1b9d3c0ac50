package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"content-analysis-pipeline/internal/classify"
	"content-analysis-pipeline/internal/config"
	"content-analysis-pipeline/internal/models"
	"content-analysis-pipeline/internal/store"
	"content-analysis-pipeline/internal/telemetry"
)

// JobStore is the slice of the persistence layer the dispatcher needs.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkProcessing(ctx context.Context, id, category string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
}

// WorkQueue delivers job ids at-least-once.
type WorkQueue interface {
	Dequeue(ctx context.Context, wait time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
	InFlight(ctx context.Context) (int64, error)
}

// AnalyzerClient starts analysis for a job at the service handling the given
// category. Only transport-level success matters; the analyzer writes the
// terminal result itself.
type AnalyzerClient interface {
	Analyze(ctx context.Context, category, jobID string) error
}

// Dispatcher drains the work queue, classifies each job, records the routing
// decision, and hands the job to the matching analyzer.
type Dispatcher struct {
	cfg      config.Config
	store    JobStore
	queue    WorkQueue
	analyzer AnalyzerClient
	logger   *slog.Logger
}

func New(cfg config.Config, st JobStore, q WorkQueue, ac AnalyzerClient, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		queue:    q,
		analyzer: ac,
		logger:   logger,
	}
}

// Run drives the dispatch loop until context cancellation. Per-job errors are
// contained to their cycle; the loop itself only stops with the context.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := d.queue.RequeueExpired(ctx, time.Now(), 100); err != nil {
			d.logger.Error("requeue expired failed", slog.String("error", err.Error()))
		} else if len(reclaimed) > 0 {
			d.logger.Warn("reclaimed expired leases", slog.Int("count", len(reclaimed)))
		}
		if depth, err := d.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}
		// The in-flight gauge mirrors the lease set in the queue rather than a
		// process-local counter, so leases held by a crashed process never
		// leave the gauge skewed.
		if inflight, err := d.queue.InFlight(ctx); err == nil {
			telemetry.InFlightGauge.Set(float64(inflight))
		}

		jobID, err := d.queue.Dequeue(ctx, d.cfg.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("dequeue failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if jobID == "" {
			continue
		}

		d.dispatchOne(ctx, jobID)
	}
}

// dispatchOne runs a single cycle for one delivered job id. The message is
// acked only after the PROCESSING transition is durably recorded; a crash in
// between costs a redelivery, never a job.
func (d *Dispatcher) dispatchOne(ctx context.Context, jobID string) {
	job, err := d.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		// Stale or duplicate delivery: expected under at-least-once, drop it.
		telemetry.StaleMessages.Inc()
		d.logger.Info("dropping message without job record", slog.String("job_id", jobID))
		d.ack(ctx, jobID)
		return
	}
	if err != nil {
		// Store unavailable: leave the message leased for redelivery.
		d.logger.Error("job lookup failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
		return
	}

	category := classify.Category(job.ContentType)
	advanced, err := d.store.MarkProcessing(ctx, job.ID, category)
	if err != nil {
		d.logger.Error("mark processing failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	d.ack(ctx, jobID)

	if !advanced {
		// Already terminal, a late redelivery. Nothing to route.
		d.logger.Info("skipping terminal job", slog.String("job_id", job.ID), slog.String("status", job.Status))
		return
	}

	if category == models.CategoryUnsupported {
		telemetry.UnsupportedJobs.Inc()
		d.logger.Warn("unsupported content type",
			slog.String("job_id", job.ID),
			slog.String("content_type", job.ContentType),
		)
		if _, err := d.store.MarkFailed(ctx, job.ID, models.ReasonUnsupportedType); err != nil {
			d.logger.Error("mark failed errored", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		return
	}

	d.logger.Info("routing job",
		slog.String("job_id", job.ID),
		slog.String("category", category),
	)
	if err := d.invokeWithRetry(ctx, category, job.ID); err != nil {
		telemetry.AnalyzerFailures.Inc()
		d.logger.Error("analyzer unreachable",
			slog.String("job_id", job.ID),
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
		advanced, err := d.store.MarkFailed(ctx, job.ID, models.ReasonAnalyzerUnreachable)
		if err != nil {
			d.logger.Error("mark failed errored", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		} else if !advanced {
			// The analyzer finished the job after our transport gave up.
			// Its terminal write stands.
			d.logger.Info("job completed despite transport errors", slog.String("job_id", job.ID))
		}
		return
	}
	telemetry.DispatchCounter.WithLabelValues(category).Inc()
}

// invokeWithRetry calls the analyzer with bounded retries and jittered
// exponential backoff.
func (d *Dispatcher) invokeWithRetry(ctx context.Context, category, jobID string) error {
	maxAttempts := d.cfg.DispatchMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.analyzer.Analyze(ctx, category, jobID)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffWithJitter(d.cfg.BackoffInitial, d.cfg.BackoffMax, attempt)):
		}
	}
	return lastErr
}

func (d *Dispatcher) ack(ctx context.Context, jobID string) {
	if err := d.queue.Ack(ctx, jobID); err != nil {
		// Worst case the lease expires and the cycle repeats idempotently.
		d.logger.Warn("ack failed", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half < 1 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(half)))
	return half + jitter
}
