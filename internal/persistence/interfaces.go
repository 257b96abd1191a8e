// Package persistence defines the storage contract for the pipeline
// scoring engine: the deal rows being scored, their call scores, invites
// and communications, the append-only score history, the tracking-event
// queue, and the batch run log.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a row that must exist does not.
var ErrNotFound = errors.New("not found")

// Deal is one sales recommendation being scored (a recommendations row).
// The score columns hold the last computed result; the authoritative
// explanation of how they came about lives in the history table.
type Deal struct {
	ID         int64  `json:"id" db:"id"`
	ClientName string `json:"client_name" db:"client_name"`
	OwnerName  string `json:"owner_name" db:"owner_name"`
	Status     string `json:"status" db:"status"`

	SentAt       *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	SnoozedUntil *time.Time `json:"snoozed_until,omitempty" db:"snoozed_until"`
	RevivedAt    *time.Time `json:"revived_at,omitempty" db:"revived_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" db:"archived_at"`

	PredictedMonthly float64 `json:"predicted_monthly" db:"predicted_monthly"`
	PredictedOnetime float64 `json:"predicted_onetime" db:"predicted_onetime"`

	ConfidenceScore          int        `json:"confidence_score" db:"confidence_score"`
	ConfidencePercent        float64    `json:"confidence_percent" db:"confidence_percent"`
	WeightedMonthly          float64    `json:"weighted_monthly" db:"weighted_monthly"`
	WeightedOnetime          float64    `json:"weighted_onetime" db:"weighted_onetime"`
	BaseScore                float64    `json:"base_score" db:"base_score"`
	TotalPenalties           float64    `json:"total_penalties" db:"total_penalties"`
	TotalBonus               float64    `json:"total_bonus" db:"total_bonus"`
	PenaltyEmailNotOpened    float64    `json:"penalty_email_not_opened" db:"penalty_email_not_opened"`
	PenaltyProposalNotViewed float64    `json:"penalty_proposal_not_viewed" db:"penalty_proposal_not_viewed"`
	PenaltySilence           float64    `json:"penalty_silence" db:"penalty_silence"`
	LastScoredAt             *time.Time `json:"last_scored_at,omitempty" db:"last_scored_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScoreUpdate carries the computed score columns for the deal-row UPDATE.
// last_scored_at and updated_at are set server-side.
type ScoreUpdate struct {
	ConfidenceScore          int     `db:"confidence_score"`
	ConfidencePercent        float64 `db:"confidence_percent"`
	WeightedMonthly          float64 `db:"weighted_monthly"`
	WeightedOnetime          float64 `db:"weighted_onetime"`
	BaseScore                float64 `db:"base_score"`
	TotalPenalties           float64 `db:"total_penalties"`
	TotalBonus               float64 `db:"total_bonus"`
	PenaltyEmailNotOpened    float64 `db:"penalty_email_not_opened"`
	PenaltyProposalNotViewed float64 `db:"penalty_proposal_not_viewed"`
	PenaltySilence           float64 `db:"penalty_silence"`
}

// CallScores are the rep-entered qualitative factors, at most one row per
// deal.
type CallScores struct {
	RecommendationID int64     `json:"recommendation_id" db:"recommendation_id"`
	BudgetClarity    string    `json:"budget_clarity" db:"budget_clarity"`
	Competition      string    `json:"competition" db:"competition"`
	Engagement       string    `json:"engagement" db:"engagement"`
	PlanFit          string    `json:"plan_fit" db:"plan_fit"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Invite is one proposal invite with its engagement milestones.
type Invite struct {
	ID               int64      `json:"id" db:"id"`
	RecommendationID int64      `json:"recommendation_id" db:"recommendation_id"`
	Email            string     `json:"email" db:"email"`
	EmailOpenedAt    *time.Time `json:"email_opened_at,omitempty" db:"email_opened_at"`
	AccountCreatedAt *time.Time `json:"account_created_at,omitempty" db:"account_created_at"`
	ViewedAt         *time.Time `json:"viewed_at,omitempty" db:"viewed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Communication is one logged touch with the prospect.
type Communication struct {
	ID               int64     `json:"id" db:"id"`
	RecommendationID int64     `json:"recommendation_id" db:"recommendation_id"`
	Direction        string    `json:"direction" db:"direction"` // inbound | outbound
	ContactAt        time.Time `json:"contact_at" db:"contact_at"`
	Note             string    `json:"note" db:"note"`
}

// ScoreHistoryEvent is one append-only history row. Breakdown holds the
// complete scoring result JSON; nil on legacy rows, and the audit feed must
// tolerate that.
type ScoreHistoryEvent struct {
	ID                int64           `json:"id" db:"id"`
	RecommendationID  int64           `json:"recommendation_id" db:"recommendation_id"`
	ConfidenceScore   int             `json:"confidence_score" db:"confidence_score"`
	ConfidencePercent float64         `json:"confidence_percent" db:"confidence_percent"`
	WeightedMonthly   float64         `json:"weighted_monthly" db:"weighted_monthly"`
	WeightedOnetime   float64         `json:"weighted_onetime" db:"weighted_onetime"`
	TriggerSource     string          `json:"trigger_source" db:"trigger_source"`
	Breakdown         json.RawMessage `json:"breakdown,omitempty" db:"breakdown"`
	ScoredAt          time.Time       `json:"scored_at" db:"scored_at"`
}

// ScoreEvent is one queued tracking event awaiting the batch drain.
type ScoreEvent struct {
	ID               int64      `json:"id" db:"id"`
	RecommendationID int64      `json:"recommendation_id" db:"recommendation_id"`
	EventType        string     `json:"event_type" db:"event_type"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// ScoringRun records one batch operation for operational review.
type ScoringRun struct {
	ID          int64           `json:"id" db:"id"`
	RunID       string          `json:"run_id" db:"run_id"`
	RunType     string          `json:"run_type" db:"run_type"` // daily_cron | event_queue | manual
	Processed   int             `json:"processed" db:"processed"`
	Succeeded   int             `json:"succeeded" db:"succeeded"`
	Failed      int             `json:"failed" db:"failed"`
	Skipped     int             `json:"skipped" db:"skipped"`
	DurationMS  int64           `json:"duration_ms" db:"duration_ms"`
	Errors      json.RawMessage `json:"errors,omitempty" db:"errors"`
	CompletedAt time.Time       `json:"completed_at" db:"completed_at"`
}

// PipelineFilter narrows the pipeline dashboard query.
type PipelineFilter struct {
	Owner string `json:"owner,omitempty"`
}

// DealsRepo reads recommendations and persists computed scores.
type DealsRepo interface {
	// GetByID returns the deal or ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Deal, error)

	// UpdateScore writes the score columns and bumps last_scored_at;
	// ErrNotFound when no row was touched.
	UpdateScore(ctx context.Context, id int64, up ScoreUpdate) error

	// ListStaleIDs returns active (sent/declined, non-archived,
	// non-snoozed) deals last scored before the cutoff or never scored,
	// oldest first with never-scored leading.
	ListStaleIDs(ctx context.Context, scoredBefore, now time.Time) ([]int64, error)

	// ListActiveIDs returns all non-archived sent/declined deal ids.
	ListActiveIDs(ctx context.Context) ([]int64, error)

	// ListPipeline returns the non-archived sent deals the dashboard
	// aggregates, optionally filtered by owner.
	ListPipeline(ctx context.Context, f PipelineFilter) ([]Deal, error)

	// Owners returns the distinct owner names across active deals.
	Owners(ctx context.Context) ([]string, error)
}

// CallScoresRepo reads the optional call-score row.
type CallScoresRepo interface {
	// GetByDeal returns (nil, nil) when the call has not been scored.
	GetByDeal(ctx context.Context, recommendationID int64) (*CallScores, error)
}

// InvitesRepo reads a deal's invites.
type InvitesRepo interface {
	ListByDeal(ctx context.Context, recommendationID int64) ([]Invite, error)
}

// CommunicationsRepo reads a deal's communication log.
type CommunicationsRepo interface {
	ListByDeal(ctx context.Context, recommendationID int64) ([]Communication, error)
}

// SettingsRepo reads key/value configuration rows.
type SettingsRepo interface {
	// Get returns the raw value or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
}

// HistoryRepo appends and reads the score history.
type HistoryRepo interface {
	Insert(ctx context.Context, ev ScoreHistoryEvent) error

	// ListByDeal returns history ordered by scored_at ascending.
	ListByDeal(ctx context.Context, recommendationID int64) ([]ScoreHistoryEvent, error)
}

// EventsRepo is the score event queue.
type EventsRepo interface {
	Enqueue(ctx context.Context, recommendationID int64, eventType string) error

	// UnprocessedDealIDs returns the distinct deal ids with queued events.
	UnprocessedDealIDs(ctx context.Context) ([]int64, error)

	// MarkAllProcessed stamps every unprocessed event and reports how many
	// were stamped. Safe to run concurrently; stamping is idempotent.
	MarkAllProcessed(ctx context.Context) (int64, error)

	UnprocessedCount(ctx context.Context) (int64, error)
}

// RunsRepo appends and reads the scoring run log.
type RunsRepo interface {
	Insert(ctx context.Context, run ScoringRun) error
	ListRecent(ctx context.Context, limit int) ([]ScoringRun, error)
}

// Repository aggregates all persistence interfaces behind one handle.
type Repository struct {
	Deals    DealsRepo
	Calls    CallScoresRepo
	Invites  InvitesRepo
	Comms    CommunicationsRepo
	Settings SettingsRepo
	History  HistoryRepo
	Events   EventsRepo
	Runs     RunsRepo
}
