package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// historyRepo implements HistoryRepo for PostgreSQL
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a PostgreSQL score-history repository
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryRepo {
	return &historyRepo{db: db, timeout: timeout}
}

// Insert appends one history event. Rows are never updated afterwards.
func (r *historyRepo) Insert(ctx context.Context, ev persistence.ScoreHistoryEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO pipeline_score_history
			(recommendation_id, confidence_score, confidence_percent,
			 weighted_monthly, weighted_onetime, trigger_source, breakdown, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	// A nil breakdown stores SQL NULL, matching legacy rows.
	var breakdown []byte
	if ev.Breakdown != nil {
		breakdown = []byte(ev.Breakdown)
	}

	_, err := r.db.ExecContext(ctx, query,
		ev.RecommendationID, ev.ConfidenceScore, ev.ConfidencePercent,
		ev.WeightedMonthly, ev.WeightedOnetime, ev.TriggerSource, breakdown, ev.ScoredAt)
	if err != nil {
		return fmt.Errorf("failed to insert score history for recommendation %d: %w", ev.RecommendationID, err)
	}
	return nil
}

// ListByDeal returns the deal's history ordered by scored_at ascending, the
// order the audit delta computer requires.
func (r *historyRepo) ListByDeal(ctx context.Context, recommendationID int64) ([]persistence.ScoreHistoryEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, recommendation_id, confidence_score, confidence_percent,
		       weighted_monthly, weighted_onetime, trigger_source, breakdown, scored_at
		FROM pipeline_score_history
		WHERE recommendation_id = $1
		ORDER BY scored_at ASC, id ASC`

	var events []persistence.ScoreHistoryEvent
	if err := r.db.SelectContext(ctx, &events, query, recommendationID); err != nil {
		return nil, fmt.Errorf("failed to list score history for recommendation %d: %w", recommendationID, err)
	}
	return events, nil
}
