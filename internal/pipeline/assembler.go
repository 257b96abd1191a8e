package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/scoring"
	"github.com/pulsecrm/pipescore/internal/timeutil"
)

// Clock supplies the current instant. Injectable so recalculation tests are
// deterministic; production uses UTCNow.
type Clock func() time.Time

// UTCNow is the production clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}

// Assembler reads one deal's rows and shapes the scoring engine's input.
// Every timestamp is normalized to UTC before it crosses into the engine.
type Assembler struct {
	repos *persistence.Repository
	clock Clock
}

// NewAssembler creates an assembler. A nil clock defaults to UTCNow.
func NewAssembler(repos *persistence.Repository, clock Clock) *Assembler {
	if clock == nil {
		clock = UTCNow
	}
	return &Assembler{repos: repos, clock: clock}
}

// Assemble builds the scoring input for one deal. Returns
// persistence.ErrNotFound (wrapped) when the deal does not exist.
func (a *Assembler) Assemble(ctx context.Context, id int64) (scoring.Input, error) {
	deal, err := a.repos.Deals.GetByID(ctx, id)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("failed to assemble recommendation %d: %w", id, err)
	}

	call, err := a.repos.Calls.GetByDeal(ctx, id)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("failed to assemble recommendation %d: %w", id, err)
	}

	invites, err := a.repos.Invites.ListByDeal(ctx, id)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("failed to assemble recommendation %d: %w", id, err)
	}

	comms, err := a.repos.Comms.ListByDeal(ctx, id)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("failed to assemble recommendation %d: %w", id, err)
	}

	in := scoring.Input{
		RecommendationID: deal.ID,
		Status:           deal.Status,
		SentAt:           utc(deal.SentAt),
		PredictedMonthly: deal.PredictedMonthly,
		PredictedOnetime: deal.PredictedOnetime,
		Milestones:       deriveMilestones(invites),
		Invites:          deriveInviteStats(invites),
		Comms:            deriveComms(comms),
		Now:              a.clock(),
	}

	if call != nil {
		in.Call = &scoring.CallFactors{
			BudgetClarity: call.BudgetClarity,
			Competition:   call.Competition,
			Engagement:    call.Engagement,
			PlanFit:       call.PlanFit,
		}
	}

	return in, nil
}

// deriveMilestones takes the earliest engagement event of each kind across
// the deal's invites.
func deriveMilestones(invites []persistence.Invite) scoring.Milestones {
	var opened, created, viewed []*time.Time
	for i := range invites {
		opened = append(opened, invites[i].EmailOpenedAt)
		created = append(created, invites[i].AccountCreatedAt)
		viewed = append(viewed, invites[i].ViewedAt)
	}
	return scoring.Milestones{
		FirstEmailOpenedAt:    utc(timeutil.Earliest(opened...)),
		FirstAccountCreatedAt: utc(timeutil.Earliest(created...)),
		FirstViewedAt:         utc(timeutil.Earliest(viewed...)),
	}
}

func deriveInviteStats(invites []persistence.Invite) scoring.InviteStats {
	stats := scoring.InviteStats{Total: len(invites)}
	for i := range invites {
		if invites[i].EmailOpenedAt != nil {
			stats.Opened++
		}
		if invites[i].ViewedAt != nil {
			stats.Viewed++
		}
		if invites[i].AccountCreatedAt != nil {
			stats.AccountsCreated++
		}
	}
	return stats
}

// deriveComms condenses the communication log: the latest contact in each
// direction, and how many outbound touches went unanswered since the
// prospect last replied (all outbounds when they never have).
func deriveComms(comms []persistence.Communication) scoring.CommsSummary {
	var summary scoring.CommsSummary
	for i := range comms {
		t := comms[i].ContactAt.UTC()
		switch comms[i].Direction {
		case "inbound":
			if summary.LastProspectContactAt == nil || t.After(*summary.LastProspectContactAt) {
				summary.LastProspectContactAt = &t
			}
		case "outbound":
			if summary.LastTeamContactAt == nil || t.After(*summary.LastTeamContactAt) {
				summary.LastTeamContactAt = &t
			}
		}
	}

	for i := range comms {
		if comms[i].Direction != "outbound" {
			continue
		}
		if summary.LastProspectContactAt == nil || comms[i].ContactAt.After(*summary.LastProspectContactAt) {
			summary.FollowupsSinceReply++
		}
	}
	return summary
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
