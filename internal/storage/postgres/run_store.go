package postgres

import (
	"context"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a harvest run.
type RunStatus string

// Run states.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// SourceStats is the per-source outcome recorded against a run.
type SourceStats struct {
	Source           string
	Pages            int64
	Details          int64
	Records          int64
	Rejected         int64
	InvalidResponses int64
	FetchErrors      int64
	Error            *string
	FinishedAt       time.Time
}

// RunStore records harvest runs and their per-source outcomes.
type RunStore struct {
	pool execer
}

// NewRunStoreWithPool wraps an existing pool. The store does not own the
// pool; Close on the BookingStore sharing it releases the connections.
func NewRunStoreWithPool(pool execer) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// EnsureTables creates the run tables when they do not exist.
func (s *RunStore) EnsureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS harvest_runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
)`,
		`CREATE TABLE IF NOT EXISTS harvest_sources (
	run_id            TEXT NOT NULL,
	source            TEXT NOT NULL,
	pages             BIGINT NOT NULL,
	details           BIGINT NOT NULL,
	records           BIGINT NOT NULL,
	rejected          BIGINT NOT NULL,
	invalid_responses BIGINT NOT NULL,
	fetch_errors      BIGINT NOT NULL,
	error_message     TEXT,
	finished_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, source)
)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create run tables: %w", err)
		}
	}
	return nil
}

// StartRun inserts or resets a run row in the running state.
func (s *RunStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (run_id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET started_at = EXCLUDED.started_at, status = EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// RecordSource upserts the outcome of one source within a run.
func (s *RunStore) RecordSource(ctx context.Context, runID string, stats SourceStats) error {
	query := `
		INSERT INTO harvest_sources (run_id, source, pages, details, records, rejected,
			invalid_responses, fetch_errors, error_message, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id, source) DO UPDATE
		SET pages = EXCLUDED.pages,
			details = EXCLUDED.details,
			records = EXCLUDED.records,
			rejected = EXCLUDED.rejected,
			invalid_responses = EXCLUDED.invalid_responses,
			fetch_errors = EXCLUDED.fetch_errors,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at;
	`
	_, err := s.pool.Exec(ctx, query,
		runID,
		stats.Source,
		stats.Pages,
		stats.Details,
		stats.Records,
		stats.Rejected,
		stats.InvalidResponses,
		stats.FetchErrors,
		stats.Error,
		stats.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record source %s: %w", stats.Source, err)
	}
	return nil
}

// FinishRun marks a run complete with a status and optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4;
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}
