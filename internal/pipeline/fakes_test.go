package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsecrm/pipescore/internal/persistence"
)

// memStore is an in-memory implementation of the whole persistence
// contract, with hooks to inject failures per deal.
type memStore struct {
	mu sync.Mutex

	deals    map[int64]*persistence.Deal
	calls    map[int64]*persistence.CallScores
	invites  map[int64][]persistence.Invite
	comms    map[int64][]persistence.Communication
	settings map[string]string
	history  []persistence.ScoreHistoryEvent
	events   []persistence.ScoreEvent
	runs     []persistence.ScoringRun

	nextEventID int64
	now         time.Time

	failUpdate  map[int64]error
	failHistory error
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		deals:      map[int64]*persistence.Deal{},
		calls:      map[int64]*persistence.CallScores{},
		invites:    map[int64][]persistence.Invite{},
		comms:      map[int64][]persistence.Communication{},
		settings:   map[string]string{},
		failUpdate: map[int64]error{},
		now:        now,
	}
}

func (s *memStore) repository() *persistence.Repository {
	return &persistence.Repository{
		Deals:    &memDeals{s},
		Calls:    &memCalls{s},
		Invites:  &memInvites{s},
		Comms:    &memComms{s},
		Settings: &memSettings{s},
		History:  &memHistory{s},
		Events:   &memEvents{s},
		Runs:     &memRuns{s},
	}
}

func (s *memStore) addDeal(d persistence.Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	s.deals[d.ID] = &cp
}

func (s *memStore) historyFor(id int64) []persistence.ScoreHistoryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []persistence.ScoreHistoryEvent
	for _, ev := range s.history {
		if ev.RecommendationID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memStore) lastRun() *persistence.ScoringRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	run := s.runs[len(s.runs)-1]
	return &run
}

type memDeals struct{ s *memStore }

func (m *memDeals) GetByID(_ context.Context, id int64) (*persistence.Deal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.deals[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDeals) UpdateScore(_ context.Context, id int64, up persistence.ScoreUpdate) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.failUpdate[id]; err != nil {
		return err
	}
	d, ok := m.s.deals[id]
	if !ok {
		return persistence.ErrNotFound
	}
	d.ConfidenceScore = up.ConfidenceScore
	d.ConfidencePercent = up.ConfidencePercent
	d.WeightedMonthly = up.WeightedMonthly
	d.WeightedOnetime = up.WeightedOnetime
	d.BaseScore = up.BaseScore
	d.TotalPenalties = up.TotalPenalties
	d.TotalBonus = up.TotalBonus
	d.PenaltyEmailNotOpened = up.PenaltyEmailNotOpened
	d.PenaltyProposalNotViewed = up.PenaltyProposalNotViewed
	d.PenaltySilence = up.PenaltySilence
	scored := m.s.now
	d.LastScoredAt = &scored
	return nil
}

func (m *memDeals) ListStaleIDs(_ context.Context, scoredBefore, now time.Time) ([]int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var stale []*persistence.Deal
	for _, d := range m.s.deals {
		if d.Status != "sent" && d.Status != "declined" {
			continue
		}
		if d.ArchivedAt != nil {
			continue
		}
		if d.SnoozedUntil != nil && d.SnoozedUntil.After(now) {
			continue
		}
		if d.LastScoredAt == nil || d.LastScoredAt.Before(scoredBefore) {
			stale = append(stale, d)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		a, b := stale[i].LastScoredAt, stale[j].LastScoredAt
		if a == nil {
			return true
		}
		if b == nil {
			return false
		}
		return a.Before(*b)
	})
	ids := make([]int64, len(stale))
	for i, d := range stale {
		ids[i] = d.ID
	}
	return ids, nil
}

func (m *memDeals) ListActiveIDs(_ context.Context) ([]int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var ids []int64
	for _, d := range m.s.deals {
		if (d.Status == "sent" || d.Status == "declined") && d.ArchivedAt == nil {
			ids = append(ids, d.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memDeals) ListPipeline(_ context.Context, f persistence.PipelineFilter) ([]persistence.Deal, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []persistence.Deal
	for _, d := range m.s.deals {
		if d.Status != "sent" || d.ArchivedAt != nil {
			continue
		}
		if f.Owner != "" && d.OwnerName != f.Owner {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDeals) Owners(_ context.Context) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	seen := map[string]bool{}
	for _, d := range m.s.deals {
		if (d.Status == "sent" || d.Status == "declined") && d.ArchivedAt == nil && d.OwnerName != "" {
			seen[d.OwnerName] = true
		}
	}
	var owners []string
	for o := range seen {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}

type memCalls struct{ s *memStore }

func (m *memCalls) GetByDeal(_ context.Context, id int64) (*persistence.CallScores, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cs, ok := m.s.calls[id]
	if !ok {
		return nil, nil
	}
	cp := *cs
	return &cp, nil
}

type memInvites struct{ s *memStore }

func (m *memInvites) ListByDeal(_ context.Context, id int64) ([]persistence.Invite, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]persistence.Invite(nil), m.s.invites[id]...), nil
}

type memComms struct{ s *memStore }

func (m *memComms) ListByDeal(_ context.Context, id int64) ([]persistence.Communication, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]persistence.Communication(nil), m.s.comms[id]...), nil
}

type memSettings struct{ s *memStore }

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	v, ok := m.s.settings[key]
	if !ok {
		return "", persistence.ErrNotFound
	}
	return v, nil
}

type memHistory struct{ s *memStore }

func (m *memHistory) Insert(_ context.Context, ev persistence.ScoreHistoryEvent) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.failHistory != nil {
		return m.s.failHistory
	}
	ev.ID = int64(len(m.s.history) + 1)
	m.s.history = append(m.s.history, ev)
	return nil
}

func (m *memHistory) ListByDeal(_ context.Context, id int64) ([]persistence.ScoreHistoryEvent, error) {
	return m.s.historyFor(id), nil
}

type memEvents struct{ s *memStore }

func (m *memEvents) Enqueue(_ context.Context, id int64, eventType string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextEventID++
	m.s.events = append(m.s.events, persistence.ScoreEvent{
		ID:               m.s.nextEventID,
		RecommendationID: id,
		EventType:        eventType,
		CreatedAt:        m.s.now,
	})
	return nil
}

func (m *memEvents) UnprocessedDealIDs(_ context.Context) ([]int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	seen := map[int64]bool{}
	var ids []int64
	for _, ev := range m.s.events {
		if ev.ProcessedAt == nil && !seen[ev.RecommendationID] {
			seen[ev.RecommendationID] = true
			ids = append(ids, ev.RecommendationID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memEvents) MarkAllProcessed(_ context.Context) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var stamped int64
	for i := range m.s.events {
		if m.s.events[i].ProcessedAt == nil {
			t := m.s.now
			m.s.events[i].ProcessedAt = &t
			stamped++
		}
	}
	return stamped, nil
}

func (m *memEvents) UnprocessedCount(_ context.Context) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, ev := range m.s.events {
		if ev.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

type memRuns struct{ s *memStore }

func (m *memRuns) Insert(_ context.Context, run persistence.ScoringRun) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	run.ID = int64(len(m.s.runs) + 1)
	m.s.runs = append(m.s.runs, run)
	return nil
}

func (m *memRuns) ListRecent(_ context.Context, limit int) ([]persistence.ScoringRun, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	out := append([]persistence.ScoringRun(nil), m.s.runs...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
