package scoring

import "time"

// Result mirrors the score columns on the deal row plus the per-penalty
// breakdown. The history table stores it verbatim as the breakdown JSON, so
// the field names here are a persistence contract.
type Result struct {
	RecommendationID  int64   `json:"recommendation_id"`
	Status            string  `json:"status"`
	ConfidenceScore   int     `json:"confidence_score"`
	ConfidencePercent float64 `json:"confidence_percent"`
	WeightedMonthly   float64 `json:"weighted_monthly"`
	WeightedOnetime   float64 `json:"weighted_onetime"`
	BaseScore         float64 `json:"base_score"`
	TotalPenalties    float64 `json:"total_penalties"`
	TotalBonus        float64 `json:"total_bonus"`

	PenaltyEmailNotOpened    float64 `json:"penalty_email_not_opened"`
	PenaltyProposalNotViewed float64 `json:"penalty_proposal_not_viewed"`
	PenaltySilence           float64 `json:"penalty_silence"`

	PenaltyBreakdown PenaltyBreakdown `json:"penalty_breakdown"`

	ComputedAt time.Time `json:"computed_at"`
}

// PenaltyBreakdown is the per-component detail the audit feed explains
// score changes with.
type PenaltyBreakdown struct {
	EmailNotOpened    float64 `json:"email_not_opened"`
	ProposalNotViewed float64 `json:"proposal_not_viewed"`
	Silence           float64 `json:"silence"`
	MultiInviteBonus  float64 `json:"multi_invite_bonus"`
}
