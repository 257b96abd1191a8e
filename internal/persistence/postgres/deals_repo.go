package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// dealsRepo implements DealsRepo for PostgreSQL
type dealsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDealsRepo creates a PostgreSQL deals repository
func NewDealsRepo(db *sqlx.DB, timeout time.Duration) persistence.DealsRepo {
	return &dealsRepo{db: db, timeout: timeout}
}

const dealColumns = `
	id, client_name, owner_name, status,
	sent_at, snoozed_until, revived_at, archived_at,
	predicted_monthly, predicted_onetime,
	confidence_score, confidence_percent, weighted_monthly, weighted_onetime,
	base_score, total_penalties, total_bonus,
	penalty_email_not_opened, penalty_proposal_not_viewed, penalty_silence,
	last_scored_at, created_at, updated_at`

// GetByID returns the deal or ErrNotFound.
func (r *dealsRepo) GetByID(ctx context.Context, id int64) (*persistence.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + dealColumns + ` FROM recommendations WHERE id = $1`

	var deal persistence.Deal
	if err := r.db.GetContext(ctx, &deal, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recommendation %d: %w", id, err)
	}
	return &deal, nil
}

// UpdateScore writes the computed score columns and bumps last_scored_at.
// ErrNotFound when the id matches no row.
func (r *dealsRepo) UpdateScore(ctx context.Context, id int64, up persistence.ScoreUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE recommendations SET
			confidence_score = $2,
			confidence_percent = $3,
			weighted_monthly = $4,
			weighted_onetime = $5,
			base_score = $6,
			total_penalties = $7,
			total_bonus = $8,
			penalty_email_not_opened = $9,
			penalty_proposal_not_viewed = $10,
			penalty_silence = $11,
			last_scored_at = now(),
			updated_at = now()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id,
		up.ConfidenceScore, up.ConfidencePercent, up.WeightedMonthly, up.WeightedOnetime,
		up.BaseScore, up.TotalPenalties, up.TotalBonus,
		up.PenaltyEmailNotOpened, up.PenaltyProposalNotViewed, up.PenaltySilence)
	if err != nil {
		return fmt.Errorf("failed to update score for recommendation %d: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListStaleIDs returns active deals due for the daily rescore, never-scored
// rows first so new deals get their initial score promptly.
func (r *dealsRepo) ListStaleIDs(ctx context.Context, scoredBefore, now time.Time) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id FROM recommendations
		WHERE status IN ('sent', 'declined')
		  AND archived_at IS NULL
		  AND (last_scored_at IS NULL OR last_scored_at < $1)
		  AND (snoozed_until IS NULL OR snoozed_until <= $2)
		ORDER BY last_scored_at ASC NULLS FIRST`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, scoredBefore, now); err != nil {
		return nil, fmt.Errorf("failed to list stale recommendations: %w", err)
	}
	return ids, nil
}

// ListActiveIDs returns every non-archived sent or declined deal.
func (r *dealsRepo) ListActiveIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id FROM recommendations
		WHERE status IN ('sent', 'declined')
		  AND archived_at IS NULL
		ORDER BY id ASC`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list active recommendations: %w", err)
	}
	return ids, nil
}

// ListPipeline returns the non-archived sent deals the dashboard buckets.
func (r *dealsRepo) ListPipeline(ctx context.Context, f persistence.PipelineFilter) ([]persistence.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + dealColumns + `
		FROM recommendations
		WHERE status = 'sent' AND archived_at IS NULL`

	args := []interface{}{}
	if f.Owner != "" {
		query += ` AND owner_name = $1`
		args = append(args, f.Owner)
	}
	query += ` ORDER BY weighted_monthly DESC, id ASC`

	var deals []persistence.Deal
	if err := r.db.SelectContext(ctx, &deals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list pipeline deals: %w", err)
	}
	return deals, nil
}

// Owners returns the distinct owner names across active deals for the
// dashboard rep filter.
func (r *dealsRepo) Owners(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT owner_name FROM recommendations
		WHERE status IN ('sent', 'declined')
		  AND archived_at IS NULL
		  AND owner_name <> ''
		ORDER BY owner_name ASC`

	var owners []string
	if err := r.db.SelectContext(ctx, &owners, query); err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	return owners, nil
}
