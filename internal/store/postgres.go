package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-analysis-pipeline/internal/models"
)

// ErrNotFound is returned when a job id has no row. Under at-least-once
// delivery the dispatcher treats this as a stale message, not a fault.
var ErrNotFound = errors.New("job not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a PENDING job row and returns it. The id is assigned by
// intake before the raw bytes are stored, so the same id keys the row, the
// queue message, and the object.
func (s *Store) CreateJob(ctx context.Context, id, filename, contentType string) (models.Job, error) {
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, filename, content_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, id, filename, contentType, models.StatusPending, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:          id,
		Filename:    filename,
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, content_type, status, analysis_category, result, failure_reason, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

// ListJobs returns the newest jobs first, for the listing endpoint.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, content_type, status, analysis_category, result, failure_reason, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkProcessing records the routing decision: status PROCESSING plus the
// analysis category, in one statement. The status guard keeps the transition
// monotonic: a redelivery re-sets the same values while the job is still in
// flight, but can never regress a terminal row. The returned bool reports
// whether the row was advanced (or re-confirmed).
func (s *Store) MarkProcessing(ctx context.Context, id, category string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, analysis_category = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $2)
	`, id, models.StatusProcessing, category, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDone writes the terminal result. The status guard makes the first
// terminal write win: a duplicate invocation under redelivery no-ops, and a
// row the dispatcher already failed is not resurrected. The returned bool
// reports whether this call performed the transition.
func (s *Store) MarkDone(ctx context.Context, id, result string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, result = $3, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($2, $4)
	`, id, models.StatusDone, result, models.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("mark done: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed records a terminal failure with a reason code. Guarded like
// MarkDone: an analyzer that finished while the dispatcher was deciding the
// invocation timed out keeps its DONE row and result.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($2, $4)
	`, id, models.StatusFailed, reason, models.StatusDone)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var category, result, reason pgtype.Text

	err := row.Scan(&job.ID, &job.Filename, &job.ContentType, &job.Status,
		&category, &result, &reason, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.AnalysisCategory = textPtr(category)
	job.Result = textPtr(result)
	job.FailureReason = textPtr(reason)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
