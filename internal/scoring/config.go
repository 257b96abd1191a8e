package scoring

import "encoding/json"

// SettingsKey is the settings-table key the persisted configuration
// document lives under.
const SettingsKey = "pipeline_scoring_config"

// Canonical deal statuses. The engine tolerates anything else by running
// the full pipeline branch; legacy strings never reach the batch queries.
const (
	StatusDraft      = "draft"
	StatusSent       = "sent"
	StatusDeclined   = "declined"
	StatusAccepted   = "accepted"
	StatusClosedLost = "closed_lost"
)

// Config is the full scoring configuration tree. It is persisted as a JSON
// document under SettingsKey and decoded over a copy of DefaultConfig, so a
// stored document only needs to spell out the fields it overrides.
type Config struct {
	DefaultBaseScore float64       `json:"default_base_score"`
	Weights          FactorWeights `json:"weights"`
	FactorMaps       FactorMaps    `json:"factor_maps"`
	Penalties        PenaltyConfig `json:"penalties"`
	Bonuses          BonusConfig   `json:"bonuses"`
}

// FactorWeights distributes the 100 base points across the four call
// factors.
type FactorWeights struct {
	BudgetClarity float64 `json:"budget_clarity"` // 25 pts
	Competition   float64 `json:"competition"`    // 20 pts
	Engagement    float64 `json:"engagement"`     // 25 pts
	PlanFit       float64 `json:"plan_fit"`       // 30 pts
}

// FactorMaps translate each factor's qualitative value into a 0..1
// multiplier. Values missing from a map contribute 0.
type FactorMaps struct {
	BudgetClarity map[string]float64 `json:"budget_clarity"`
	Competition   map[string]float64 `json:"competition"`
	Engagement    map[string]float64 `json:"engagement"`
	PlanFit       map[string]float64 `json:"plan_fit"`
}

// PenaltyConfig groups the three time-decay penalties.
type PenaltyConfig struct {
	EmailNotOpened    GracePenalty   `json:"email_not_opened"`
	ProposalNotViewed GracePenalty   `json:"proposal_not_viewed"`
	Silence           SilencePenalty `json:"silence"`
}

// GracePenalty accrues linearly per day once an hour-based grace period has
// elapsed, saturating at MaxPenalty. Exactly at the grace boundary no
// penalty applies.
type GracePenalty struct {
	GracePeriodHours float64 `json:"grace_period_hours"`
	DailyPenalty     float64 `json:"daily_penalty"`
	MaxPenalty       float64 `json:"max_penalty"`
}

// SilencePenalty accrues per full day of prospect silence after a day-based
// grace period. The daily rate accelerates once outbound follow-ups pile up
// without a reply.
type SilencePenalty struct {
	GracePeriodDays    float64 `json:"grace_period_days"`
	DailyPenalty       float64 `json:"daily_penalty"`
	MaxPenalty         float64 `json:"max_penalty"`
	FollowupThreshold  int     `json:"followup_threshold"`
	FollowupMultiplier float64 `json:"followup_multiplier"`
}

// BonusConfig groups score bonuses.
type BonusConfig struct {
	MultiInvite MultiInviteBonus `json:"multi_invite"`
}

// MultiInviteBonus rewards deals where every one of several invitees
// engaged. The two bonuses are independent and additive.
type MultiInviteBonus struct {
	AllOpenedBonus float64 `json:"all_opened_bonus"`
	AllViewedBonus float64 `json:"all_viewed_bonus"`
}

// DefaultConfig returns the compiled-in production configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultBaseScore: 50,
		Weights: FactorWeights{
			BudgetClarity: 25,
			Competition:   20,
			Engagement:    25,
			PlanFit:       30,
		},
		FactorMaps: FactorMaps{
			BudgetClarity: map[string]float64{
				"clear":     1.0,
				"vague":     0.5,
				"none":      0.2,
				"no_budget": 0,
			},
			Competition: map[string]float64{
				"none": 1.0,
				"some": 0.5,
				"many": 0.15,
			},
			Engagement: map[string]float64{
				"high":   1.0,
				"medium": 0.70,
				"low":    0.15,
			},
			PlanFit: map[string]float64{
				"strong": 1.0,
				"medium": 0.65,
				"weak":   0.25,
				"poor":   0,
			},
		},
		Penalties: PenaltyConfig{
			EmailNotOpened: GracePenalty{
				GracePeriodHours: 48,
				DailyPenalty:     0.5,
				MaxPenalty:       25,
			},
			ProposalNotViewed: GracePenalty{
				GracePeriodHours: 120,
				DailyPenalty:     0.5,
				MaxPenalty:       20,
			},
			Silence: SilencePenalty{
				GracePeriodDays:    10,
				DailyPenalty:       1.2,
				MaxPenalty:         60,
				FollowupThreshold:  3,
				FollowupMultiplier: 1.5,
			},
		},
		Bonuses: BonusConfig{
			MultiInvite: MultiInviteBonus{
				AllOpenedBonus: 3,
				AllViewedBonus: 5,
			},
		},
	}
}

// ParseConfig decodes a stored JSON document over a copy of DefaultConfig.
// Absent fields keep their defaults; map entries merge key by key, so an
// override may adjust a single mapping value without restating the rest.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
