package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// eventsRepo implements EventsRepo for PostgreSQL
type eventsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventsRepo creates a PostgreSQL score-event queue repository
func NewEventsRepo(db *sqlx.DB, timeout time.Duration) persistence.EventsRepo {
	return &eventsRepo{db: db, timeout: timeout}
}

// Enqueue records a tracking event for the next batch drain.
func (r *eventsRepo) Enqueue(ctx context.Context, recommendationID int64, eventType string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO pipeline_score_events (recommendation_id, event_type)
		VALUES ($1, $2)`

	if _, err := r.db.ExecContext(ctx, query, recommendationID, eventType); err != nil {
		return fmt.Errorf("failed to enqueue score event for recommendation %d: %w", recommendationID, err)
	}
	return nil
}

// UnprocessedDealIDs returns the distinct deal ids with queued events.
func (r *eventsRepo) UnprocessedDealIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT recommendation_id
		FROM pipeline_score_events
		WHERE processed_at IS NULL
		ORDER BY recommendation_id ASC`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list unprocessed score events: %w", err)
	}
	return ids, nil
}

// MarkAllProcessed stamps every unprocessed event. Concurrent drainers are
// safe: stamping is idempotent.
func (r *eventsRepo) MarkAllProcessed(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE pipeline_score_events
		SET processed_at = now()
		WHERE processed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to mark score events processed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows, nil
}

// UnprocessedCount reports the queue depth.
func (r *eventsRepo) UnprocessedCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT COUNT(*) FROM pipeline_score_events WHERE processed_at IS NULL`

	var count int64
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count unprocessed score events: %w", err)
	}
	return count, nil
}
