package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// schema is the full DDL, idempotent so migrate can run on every deploy.
const schema = `
CREATE TABLE IF NOT EXISTS recommendations (
	id                          BIGSERIAL PRIMARY KEY,
	client_name                 TEXT NOT NULL DEFAULT '',
	owner_name                  TEXT NOT NULL DEFAULT '',
	status                      TEXT NOT NULL DEFAULT 'draft',
	sent_at                     TIMESTAMPTZ,
	snoozed_until               TIMESTAMPTZ,
	revived_at                  TIMESTAMPTZ,
	archived_at                 TIMESTAMPTZ,
	predicted_monthly           NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (predicted_monthly >= 0),
	predicted_onetime           NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (predicted_onetime >= 0),
	confidence_score            INTEGER NOT NULL DEFAULT 0,
	confidence_percent          DOUBLE PRECISION NOT NULL DEFAULT 0,
	weighted_monthly            DOUBLE PRECISION NOT NULL DEFAULT 0,
	weighted_onetime            DOUBLE PRECISION NOT NULL DEFAULT 0,
	base_score                  DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_penalties             DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_bonus                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	penalty_email_not_opened    DOUBLE PRECISION NOT NULL DEFAULT 0,
	penalty_proposal_not_viewed DOUBLE PRECISION NOT NULL DEFAULT 0,
	penalty_silence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_scored_at              TIMESTAMPTZ,
	created_at                  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_recommendations_last_scored_at
	ON recommendations (last_scored_at);
CREATE INDEX IF NOT EXISTS idx_recommendations_status_archived
	ON recommendations (status, archived_at);

CREATE TABLE IF NOT EXISTS call_scores (
	recommendation_id BIGINT PRIMARY KEY REFERENCES recommendations(id) ON DELETE CASCADE,
	budget_clarity    TEXT NOT NULL DEFAULT '',
	competition       TEXT NOT NULL DEFAULT '',
	engagement        TEXT NOT NULL DEFAULT '',
	plan_fit          TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invites (
	id                 BIGSERIAL PRIMARY KEY,
	recommendation_id  BIGINT NOT NULL REFERENCES recommendations(id) ON DELETE CASCADE,
	email              TEXT NOT NULL DEFAULT '',
	email_opened_at    TIMESTAMPTZ,
	account_created_at TIMESTAMPTZ,
	viewed_at          TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_invites_recommendation
	ON invites (recommendation_id);

CREATE TABLE IF NOT EXISTS communications (
	id                BIGSERIAL PRIMARY KEY,
	recommendation_id BIGINT NOT NULL REFERENCES recommendations(id) ON DELETE CASCADE,
	direction         TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	contact_at        TIMESTAMPTZ NOT NULL,
	note              TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_communications_recommendation
	ON communications (recommendation_id, contact_at);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_score_history (
	id                 BIGSERIAL PRIMARY KEY,
	recommendation_id  BIGINT NOT NULL REFERENCES recommendations(id) ON DELETE CASCADE,
	confidence_score   INTEGER NOT NULL DEFAULT 0,
	confidence_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	weighted_monthly   DOUBLE PRECISION NOT NULL DEFAULT 0,
	weighted_onetime   DOUBLE PRECISION NOT NULL DEFAULT 0,
	trigger_source     TEXT NOT NULL DEFAULT '',
	breakdown          JSONB,
	scored_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_history_recommendation
	ON pipeline_score_history (recommendation_id, scored_at);

CREATE TABLE IF NOT EXISTS pipeline_score_events (
	id                BIGSERIAL PRIMARY KEY,
	recommendation_id BIGINT NOT NULL,
	event_type        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_score_events_processed
	ON pipeline_score_events (processed_at);

CREATE TABLE IF NOT EXISTS pipeline_scoring_runs (
	id           BIGSERIAL PRIMARY KEY,
	run_id       UUID NOT NULL,
	run_type     TEXT NOT NULL,
	processed    INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	errors       JSONB,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. Every statement is IF NOT EXISTS so running
// it against a live database is safe.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// NewRepository wires every Postgres repository behind the shared handle.
func NewRepository(db *sqlx.DB, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Deals:    NewDealsRepo(db, timeout),
		Calls:    NewCallScoresRepo(db, timeout),
		Invites:  NewInvitesRepo(db, timeout),
		Comms:    NewCommunicationsRepo(db, timeout),
		Settings: NewSettingsRepo(db, timeout),
		History:  NewHistoryRepo(db, timeout),
		Events:   NewEventsRepo(db, timeout),
		Runs:     NewRunsRepo(db, timeout),
	}
}
