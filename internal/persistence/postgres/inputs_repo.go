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

// callScoresRepo implements CallScoresRepo for PostgreSQL
type callScoresRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCallScoresRepo creates a PostgreSQL call-scores repository
func NewCallScoresRepo(db *sqlx.DB, timeout time.Duration) persistence.CallScoresRepo {
	return &callScoresRepo{db: db, timeout: timeout}
}

// GetByDeal returns the call-score row, or (nil, nil) when the rep has not
// scored the call yet. An unscored call is a normal state, not an error.
func (r *callScoresRepo) GetByDeal(ctx context.Context, recommendationID int64) (*persistence.CallScores, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT recommendation_id, budget_clarity, competition, engagement, plan_fit, updated_at
		FROM call_scores
		WHERE recommendation_id = $1`

	var cs persistence.CallScores
	if err := r.db.GetContext(ctx, &cs, query, recommendationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call scores for recommendation %d: %w", recommendationID, err)
	}
	return &cs, nil
}

// invitesRepo implements InvitesRepo for PostgreSQL
type invitesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewInvitesRepo creates a PostgreSQL invites repository
func NewInvitesRepo(db *sqlx.DB, timeout time.Duration) persistence.InvitesRepo {
	return &invitesRepo{db: db, timeout: timeout}
}

// ListByDeal returns the deal's invites oldest first.
func (r *invitesRepo) ListByDeal(ctx context.Context, recommendationID int64) ([]persistence.Invite, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, recommendation_id, email, email_opened_at, account_created_at, viewed_at, created_at
		FROM invites
		WHERE recommendation_id = $1
		ORDER BY created_at ASC, id ASC`

	var invites []persistence.Invite
	if err := r.db.SelectContext(ctx, &invites, query, recommendationID); err != nil {
		return nil, fmt.Errorf("failed to list invites for recommendation %d: %w", recommendationID, err)
	}
	return invites, nil
}

// communicationsRepo implements CommunicationsRepo for PostgreSQL
type communicationsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCommunicationsRepo creates a PostgreSQL communications repository
func NewCommunicationsRepo(db *sqlx.DB, timeout time.Duration) persistence.CommunicationsRepo {
	return &communicationsRepo{db: db, timeout: timeout}
}

// ListByDeal returns the deal's communication log in contact order.
func (r *communicationsRepo) ListByDeal(ctx context.Context, recommendationID int64) ([]persistence.Communication, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, recommendation_id, direction, contact_at, note
		FROM communications
		WHERE recommendation_id = $1
		ORDER BY contact_at ASC, id ASC`

	var comms []persistence.Communication
	if err := r.db.SelectContext(ctx, &comms, query, recommendationID); err != nil {
		return nil, fmt.Errorf("failed to list communications for recommendation %d: %w", recommendationID, err)
	}
	return comms, nil
}

// settingsRepo implements SettingsRepo for PostgreSQL
type settingsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSettingsRepo creates a PostgreSQL settings repository
func NewSettingsRepo(db *sqlx.DB, timeout time.Duration) persistence.SettingsRepo {
	return &settingsRepo{db: db, timeout: timeout}
}

// Get returns the raw settings value or ErrNotFound.
func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT value FROM settings WHERE key = $1`

	var value string
	if err := r.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.ErrNotFound
		}
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, nil
}
