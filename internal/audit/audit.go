// Package audit turns the append-only score history into an explainable
// feed: every event annotated with how the score moved since the previous
// one and which breakdown components drove the change.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/timeutil"
)

// Breakdown fields compared between successive events, in report order.
var changeFields = []string{
	"base_score",
	"penalty_email_not_opened",
	"penalty_proposal_not_viewed",
	"penalty_silence",
	"multi_invite_bonus",
	"total_bonus",
}

// Change is one breakdown field that moved between two events.
type Change struct {
	Field string  `json:"field"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Delta float64 `json:"delta"`
}

// Event is one history row annotated with deltas against its predecessor.
// The first event of a deal carries no deltas and no changes.
type Event struct {
	ID                int64     `json:"id"`
	ScoredAt          time.Time `json:"scored_at"`
	TriggerSource     string    `json:"trigger_source"`
	ConfidenceScore   int       `json:"confidence_score"`
	ConfidencePercent float64   `json:"confidence_percent"`
	WeightedMonthly   float64   `json:"weighted_monthly"`
	WeightedOnetime   float64   `json:"weighted_onetime"`

	ScoreDelta       *int     `json:"score_delta,omitempty"`
	WeightedMRRDelta *float64 `json:"weighted_mrr_delta,omitempty"`
	Changes          []Change `json:"changes,omitempty"`
}

// Feed is the audit response for one deal, chronological. The UI reverses
// it for display.
type Feed struct {
	RecommendationID int64   `json:"recommendation_id"`
	Events           []Event `json:"events"`
}

// Service computes audit feeds from persisted history.
type Service struct {
	history persistence.HistoryRepo
	log     zerolog.Logger
}

// NewService creates the audit service.
func NewService(history persistence.HistoryRepo, log zerolog.Logger) *Service {
	return &Service{history: history, log: log}
}

// GetAudit reads the deal's history and annotates each event with deltas
// against its predecessor.
func (s *Service) GetAudit(ctx context.Context, recommendationID int64) (*Feed, error) {
	rows, err := s.history.ListByDeal(ctx, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read score history for recommendation %d: %w", recommendationID, err)
	}

	feed := &Feed{RecommendationID: recommendationID, Events: make([]Event, 0, len(rows))}
	for i := range rows {
		ev := Event{
			ID:                rows[i].ID,
			ScoredAt:          rows[i].ScoredAt,
			TriggerSource:     rows[i].TriggerSource,
			ConfidenceScore:   rows[i].ConfidenceScore,
			ConfidencePercent: rows[i].ConfidencePercent,
			WeightedMonthly:   rows[i].WeightedMonthly,
			WeightedOnetime:   rows[i].WeightedOnetime,
		}

		if i > 0 {
			prev := &rows[i-1]
			scoreDelta := rows[i].ConfidenceScore - prev.ConfidenceScore
			mrrDelta := timeutil.Round2(rows[i].WeightedMonthly - prev.WeightedMonthly)
			ev.ScoreDelta = &scoreDelta
			ev.WeightedMRRDelta = &mrrDelta
			ev.Changes = s.diffBreakdowns(recommendationID, prev.Breakdown, rows[i].Breakdown)
		}

		feed.Events = append(feed.Events, ev)
	}
	return feed, nil
}

// diffBreakdowns compares the stored breakdown JSON of two events. Either
// side missing yields no changes; the top-level deltas stand on their own.
func (s *Service) diffBreakdowns(id int64, prevRaw, currRaw json.RawMessage) []Change {
	prev, ok1 := s.parseBreakdown(id, prevRaw)
	curr, ok2 := s.parseBreakdown(id, currRaw)
	if !ok1 || !ok2 {
		return nil
	}

	var changes []Change
	for _, field := range changeFields {
		from, to := prev[field], curr[field]
		if from == to {
			continue
		}
		changes = append(changes, Change{
			Field: field,
			From:  from,
			To:    to,
			Delta: timeutil.Round2(to - from),
		})
	}
	return changes
}

// breakdownDoc mirrors the subset of the scoring result the audit feed
// explains. Older rows may predate some fields; absent values read as 0.
type breakdownDoc struct {
	BaseScore                float64 `json:"base_score"`
	PenaltyEmailNotOpened    float64 `json:"penalty_email_not_opened"`
	PenaltyProposalNotViewed float64 `json:"penalty_proposal_not_viewed"`
	PenaltySilence           float64 `json:"penalty_silence"`
	TotalBonus               float64 `json:"total_bonus"`
	PenaltyBreakdown         struct {
		MultiInviteBonus float64 `json:"multi_invite_bonus"`
	} `json:"penalty_breakdown"`
}

func (s *Service) parseBreakdown(id int64, raw json.RawMessage) (map[string]float64, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var doc breakdownDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn().Err(err).
			Int64("recommendation_id", id).
			Msg("history breakdown malformed, change detail omitted")
		return nil, false
	}
	return map[string]float64{
		"base_score":                  doc.BaseScore,
		"penalty_email_not_opened":    doc.PenaltyEmailNotOpened,
		"penalty_proposal_not_viewed": doc.PenaltyProposalNotViewed,
		"penalty_silence":             doc.PenaltySilence,
		"multi_invite_bonus":          doc.PenaltyBreakdown.MultiInviteBonus,
		"total_bonus":                 doc.TotalBonus,
	}, true
}
