package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/scoring"
)

// Writer persists a computed score: an UPDATE of the deal's score columns
// followed by an append to the history table. The UPDATE must succeed; the
// history INSERT is best-effort, so a history outage never blocks the
// business flow that triggered the recalculation.
type Writer struct {
	deals   persistence.DealsRepo
	history persistence.HistoryRepo
	log     zerolog.Logger
}

// NewWriter creates a score writer.
func NewWriter(deals persistence.DealsRepo, history persistence.HistoryRepo, log zerolog.Logger) *Writer {
	return &Writer{deals: deals, history: history, log: log}
}

// Write stores res for its deal. The UPDATE always precedes the INSERT, so
// the audit trail is a superset of the materialized state even under
// concurrent triggers. A failed INSERT is logged and swallowed.
func (w *Writer) Write(ctx context.Context, trigger string, res scoring.Result) error {
	up := persistence.ScoreUpdate{
		ConfidenceScore:          res.ConfidenceScore,
		ConfidencePercent:        res.ConfidencePercent,
		WeightedMonthly:          res.WeightedMonthly,
		WeightedOnetime:          res.WeightedOnetime,
		BaseScore:                res.BaseScore,
		TotalPenalties:           res.TotalPenalties,
		TotalBonus:               res.TotalBonus,
		PenaltyEmailNotOpened:    res.PenaltyEmailNotOpened,
		PenaltyProposalNotViewed: res.PenaltyProposalNotViewed,
		PenaltySilence:           res.PenaltySilence,
	}

	if err := w.deals.UpdateScore(ctx, res.RecommendationID, up); err != nil {
		return fmt.Errorf("failed to write score for recommendation %d: %w", res.RecommendationID, err)
	}

	breakdown, err := json.Marshal(res)
	if err != nil {
		// Result is a plain struct; this cannot happen with well-formed
		// float inputs, but a NaN from a corrupt config would trip it.
		w.log.Error().Err(err).
			Int64("recommendation_id", res.RecommendationID).
			Msg("score breakdown not serializable, history row skipped")
		return nil
	}

	ev := persistence.ScoreHistoryEvent{
		RecommendationID:  res.RecommendationID,
		ConfidenceScore:   res.ConfidenceScore,
		ConfidencePercent: res.ConfidencePercent,
		WeightedMonthly:   res.WeightedMonthly,
		WeightedOnetime:   res.WeightedOnetime,
		TriggerSource:     trigger,
		Breakdown:         breakdown,
		ScoredAt:          res.ComputedAt,
	}

	if err := w.history.Insert(ctx, ev); err != nil {
		w.log.Error().Err(err).
			Int64("recommendation_id", res.RecommendationID).
			Str("trigger", trigger).
			Msg("score history insert failed, materialized score kept")
	}
	return nil
}
