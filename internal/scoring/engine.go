// Package scoring implements the pure deal-confidence scoring engine: a
// base score from rep-entered call factors, time-decay penalties for
// unopened email, unviewed proposals and prospect silence, and a bonus for
// fully engaged multi-invite deals.
package scoring

import (
	"math"

	"github.com/pulsecrm/pipescore/internal/timeutil"
)

// Engine computes confidence scores. It is pure and infallible: no clock,
// no I/O, no error path. Unknown statuses and factor values degrade to
// conservative defaults so a batch sweep never aborts on data it does not
// recognize.
type Engine struct {
	cfg *Config
}

// NewEngine builds an engine around cfg, falling back to DefaultConfig
// when cfg is nil.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Compute scores one deal snapshot at in.Now.
//
// Status short-circuits, evaluated before any math:
//
//	closed_lost  -> everything zero
//	accepted     -> score 100, weighted values equal predicted values
//	draft        -> base score only, no penalties or bonus
//
// Every other status (sent, declined, and anything legacy) runs the full
// pipeline: base - penalties + bonus, clamped to [0,100].
func (e *Engine) Compute(in Input) Result {
	res := Result{
		RecommendationID: in.RecommendationID,
		Status:           in.Status,
		ComputedAt:       in.Now,
	}

	switch in.Status {
	case StatusClosedLost:
		return res
	case StatusAccepted:
		res.ConfidenceScore = 100
		res.ConfidencePercent = 1
		res.BaseScore = 100
		res.WeightedMonthly = timeutil.Round2(in.PredictedMonthly)
		res.WeightedOnetime = timeutil.Round2(in.PredictedOnetime)
		return res
	}

	base := e.baseScore(in.Call)

	if in.Status == StatusDraft {
		return e.finalize(res, in, base, PenaltyBreakdown{})
	}

	bd := PenaltyBreakdown{
		EmailNotOpened:    e.emailNotOpenedPenalty(in),
		ProposalNotViewed: e.proposalNotViewedPenalty(in),
		Silence:           e.silencePenalty(in),
		MultiInviteBonus:  e.multiInviteBonus(in.Invites),
	}
	return e.finalize(res, in, base, bd)
}

// baseScore sums the four weighted factor contributions, or returns the
// configured default when the call has not been scored. A factor value
// missing from its map contributes 0.
func (e *Engine) baseScore(call *CallFactors) float64 {
	if call == nil {
		return e.cfg.DefaultBaseScore
	}
	w, m := e.cfg.Weights, e.cfg.FactorMaps
	return w.BudgetClarity*m.BudgetClarity[call.BudgetClarity] +
		w.Competition*m.Competition[call.Competition] +
		w.Engagement*m.Engagement[call.Engagement] +
		w.PlanFit*m.PlanFit[call.PlanFit]
}

// emailNotOpenedPenalty accrues from sent_at once the grace period lapses.
// Any opened invite suppresses it entirely.
func (e *Engine) emailNotOpenedPenalty(in Input) float64 {
	p := e.cfg.Penalties.EmailNotOpened
	if in.Milestones.FirstEmailOpenedAt != nil || in.SentAt == nil {
		return 0
	}
	h := float64(timeutil.HoursBetween(in.SentAt, in.Now))
	if h <= p.GracePeriodHours {
		return 0
	}
	raw := (h - p.GracePeriodHours) / 24 * p.DailyPenalty
	return math.Min(raw, p.MaxPenalty)
}

// proposalNotViewedPenalty anchors on the first sign of engagement (email
// open or account creation). Before that the email penalty governs, so no
// anchor means no penalty.
func (e *Engine) proposalNotViewedPenalty(in Input) float64 {
	p := e.cfg.Penalties.ProposalNotViewed
	if in.Milestones.FirstViewedAt != nil {
		return 0
	}
	anchor := timeutil.Earliest(in.Milestones.FirstEmailOpenedAt, in.Milestones.FirstAccountCreatedAt)
	if anchor == nil {
		return 0
	}
	h := float64(timeutil.HoursBetween(anchor, in.Now))
	if h <= p.GracePeriodHours {
		return 0
	}
	raw := (h - p.GracePeriodHours) / 24 * p.DailyPenalty
	return math.Min(raw, p.MaxPenalty)
}

// silencePenalty accrues per full day since the prospect last spoke (or
// since send, if they never have). Three or more unanswered follow-ups
// accelerate the daily rate.
func (e *Engine) silencePenalty(in Input) float64 {
	p := e.cfg.Penalties.Silence
	if in.SentAt == nil {
		return 0
	}
	anchor := in.Comms.LastProspectContactAt
	if anchor == nil {
		anchor = in.SentAt
	}
	d := float64(timeutil.DaysBetween(anchor, in.Now))
	if d <= p.GracePeriodDays {
		return 0
	}
	daily := p.DailyPenalty
	if in.Comms.FollowupsSinceReply >= p.FollowupThreshold {
		daily *= p.FollowupMultiplier
	}
	raw := (d - p.GracePeriodDays) * daily
	return math.Min(raw, p.MaxPenalty)
}

// multiInviteBonus applies only when more than one invite exists.
func (e *Engine) multiInviteBonus(s InviteStats) float64 {
	if s.Total <= 1 {
		return 0
	}
	b := e.cfg.Bonuses.MultiInvite
	var bonus float64
	if s.Opened >= s.Total {
		bonus += b.AllOpenedBonus
	}
	if s.Viewed >= s.Total {
		bonus += b.AllViewedBonus
	}
	return bonus
}

// finalize folds base, penalties and bonus into the reported fields and
// derives the weighted revenue values.
func (e *Engine) finalize(res Result, in Input, base float64, bd PenaltyBreakdown) Result {
	res.PenaltyBreakdown = bd
	res.PenaltyEmailNotOpened = bd.EmailNotOpened
	res.PenaltyProposalNotViewed = bd.ProposalNotViewed
	res.PenaltySilence = bd.Silence
	res.TotalPenalties = timeutil.Round2(bd.EmailNotOpened + bd.ProposalNotViewed + bd.Silence)
	res.TotalBonus = bd.MultiInviteBonus

	raw := base - res.TotalPenalties + res.TotalBonus
	res.ConfidenceScore = int(math.Round(timeutil.Clamp(raw, 0, 100)))
	res.ConfidencePercent = timeutil.Round2(float64(res.ConfidenceScore) / 100)
	res.WeightedMonthly = timeutil.Round2(in.PredictedMonthly * res.ConfidencePercent)
	res.WeightedOnetime = timeutil.Round2(in.PredictedOnetime * res.ConfidencePercent)
	res.BaseScore = math.Round(base)
	return res
}
