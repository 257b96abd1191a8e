package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

var asmNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func asmClock() time.Time { return asmNow }

func tAt(daysAgo int) time.Time {
	return asmNow.Add(-time.Duration(daysAgo) * 24 * time.Hour)
}

func tPtr(daysAgo int) *time.Time {
	t := tAt(daysAgo)
	return &t
}

func TestAssembler_DerivesMilestonesStatsAndComms(t *testing.T) {
	store := newMemStore(asmNow)
	store.addDeal(persistence.Deal{
		ID:               7,
		Status:           "sent",
		SentAt:           tPtr(20),
		PredictedMonthly: 500,
		PredictedOnetime: 1000,
	})
	store.calls[7] = &persistence.CallScores{
		RecommendationID: 7,
		BudgetClarity:    "clear",
		Competition:      "none",
		Engagement:       "high",
		PlanFit:          "strong",
	}
	store.invites[7] = []persistence.Invite{
		{ID: 1, RecommendationID: 7, EmailOpenedAt: tPtr(18), ViewedAt: tPtr(16)},
		{ID: 2, RecommendationID: 7, EmailOpenedAt: tPtr(19), AccountCreatedAt: tPtr(17)},
		{ID: 3, RecommendationID: 7},
	}
	store.comms[7] = []persistence.Communication{
		{RecommendationID: 7, Direction: "outbound", ContactAt: tAt(15)},
		{RecommendationID: 7, Direction: "inbound", ContactAt: tAt(12)},
		{RecommendationID: 7, Direction: "outbound", ContactAt: tAt(9)},
		{RecommendationID: 7, Direction: "outbound", ContactAt: tAt(4)},
	}

	in, err := NewAssembler(store.repository(), asmClock).Assemble(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), in.RecommendationID)
	assert.Equal(t, "sent", in.Status)
	assert.Equal(t, asmNow, in.Now)
	require.NotNil(t, in.Call)
	assert.Equal(t, "clear", in.Call.BudgetClarity)

	// Earliest open is invite 2's (19 days ago), earliest view invite 1's.
	require.NotNil(t, in.Milestones.FirstEmailOpenedAt)
	assert.True(t, in.Milestones.FirstEmailOpenedAt.Equal(tAt(19)))
	require.NotNil(t, in.Milestones.FirstAccountCreatedAt)
	assert.True(t, in.Milestones.FirstAccountCreatedAt.Equal(tAt(17)))
	require.NotNil(t, in.Milestones.FirstViewedAt)
	assert.True(t, in.Milestones.FirstViewedAt.Equal(tAt(16)))

	assert.Equal(t, 3, in.Invites.Total)
	assert.Equal(t, 2, in.Invites.Opened)
	assert.Equal(t, 1, in.Invites.Viewed)
	assert.Equal(t, 1, in.Invites.AccountsCreated)

	require.NotNil(t, in.Comms.LastProspectContactAt)
	assert.True(t, in.Comms.LastProspectContactAt.Equal(tAt(12)))
	require.NotNil(t, in.Comms.LastTeamContactAt)
	assert.True(t, in.Comms.LastTeamContactAt.Equal(tAt(4)))
	assert.Equal(t, 2, in.Comms.FollowupsSinceReply, "only outbounds after the last reply count")
}

func TestAssembler_NoInboundCountsAllOutbounds(t *testing.T) {
	store := newMemStore(asmNow)
	store.addDeal(persistence.Deal{ID: 3, Status: "sent", SentAt: tPtr(30)})
	store.comms[3] = []persistence.Communication{
		{RecommendationID: 3, Direction: "outbound", ContactAt: tAt(25)},
		{RecommendationID: 3, Direction: "outbound", ContactAt: tAt(20)},
		{RecommendationID: 3, Direction: "outbound", ContactAt: tAt(15)},
	}

	in, err := NewAssembler(store.repository(), asmClock).Assemble(context.Background(), 3)
	require.NoError(t, err)

	assert.Nil(t, in.Comms.LastProspectContactAt)
	assert.Equal(t, 3, in.Comms.FollowupsSinceReply)
}

func TestAssembler_UnscoredCallAndNoRowsIsValid(t *testing.T) {
	store := newMemStore(asmNow)
	store.addDeal(persistence.Deal{ID: 9, Status: "draft"})

	in, err := NewAssembler(store.repository(), asmClock).Assemble(context.Background(), 9)
	require.NoError(t, err)

	assert.Nil(t, in.Call)
	assert.Equal(t, 0, in.Invites.Total)
	assert.Nil(t, in.Milestones.FirstEmailOpenedAt)
	assert.Nil(t, in.SentAt)
}

func TestAssembler_MissingDealIsNotFound(t *testing.T) {
	store := newMemStore(asmNow)

	_, err := NewAssembler(store.repository(), asmClock).Assemble(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
}

func TestAssembler_NormalizesTimestampsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	sentLocal := asmNow.Add(-48 * time.Hour).In(loc)

	store := newMemStore(asmNow)
	store.addDeal(persistence.Deal{ID: 5, Status: "sent", SentAt: &sentLocal})

	in, err := NewAssembler(store.repository(), asmClock).Assemble(context.Background(), 5)
	require.NoError(t, err)

	require.NotNil(t, in.SentAt)
	assert.Equal(t, time.UTC, in.SentAt.Location())
	assert.True(t, in.SentAt.Equal(sentLocal))
}
