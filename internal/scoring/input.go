package scoring

import "time"

// Input carries everything Compute needs for one deal. The assembler
// normalizes every timestamp to UTC and sets Now explicitly; the engine
// never consults the wall clock.
type Input struct {
	RecommendationID int64
	Status           string
	SentAt           *time.Time
	PredictedMonthly float64
	PredictedOnetime float64

	Call       *CallFactors // nil when the rep has not scored the call
	Milestones Milestones
	Invites    InviteStats
	Comms      CommsSummary

	Now time.Time
}

// CallFactors are the rep-entered qualitative call scores.
type CallFactors struct {
	BudgetClarity string
	Competition   string
	Engagement    string
	PlanFit       string
}

// Milestones hold the earliest engagement event of each kind across all of
// the deal's invites.
type Milestones struct {
	FirstEmailOpenedAt    *time.Time
	FirstAccountCreatedAt *time.Time
	FirstViewedAt         *time.Time
}

// InviteStats count the deal's invites and how many reached each milestone.
type InviteStats struct {
	Total           int
	Opened          int
	Viewed          int
	AccountsCreated int
}

// CommsSummary condenses the communication log into what the silence
// penalty needs.
type CommsSummary struct {
	LastProspectContactAt *time.Time // latest inbound
	LastTeamContactAt     *time.Time // latest outbound
	FollowupsSinceReply   int        // outbounds after the last inbound, or all outbounds
}
