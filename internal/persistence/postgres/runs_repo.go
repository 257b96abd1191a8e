package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// runsRepo implements RunsRepo for PostgreSQL
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a PostgreSQL scoring-run log repository
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{db: db, timeout: timeout}
}

// Insert appends one run record.
func (r *runsRepo) Insert(ctx context.Context, run persistence.ScoringRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO pipeline_scoring_runs
			(run_id, run_type, processed, succeeded, failed, skipped, duration_ms, errors, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	var errsJSON []byte
	if run.Errors != nil {
		errsJSON = []byte(run.Errors)
	}

	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.RunType, run.Processed, run.Succeeded, run.Failed,
		run.Skipped, run.DurationMS, errsJSON, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert scoring run: %w", err)
	}
	return nil
}

// ListRecent returns the newest runs first for the ops status view.
func (r *runsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.ScoringRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, run_type, processed, succeeded, failed, skipped,
		       duration_ms, errors, completed_at
		FROM pipeline_scoring_runs
		ORDER BY completed_at DESC, id DESC
		LIMIT $1`

	var runs []persistence.ScoringRun
	if err := r.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list scoring runs: %w", err)
	}
	return runs, nil
}
