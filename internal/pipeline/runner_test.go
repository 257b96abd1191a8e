package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pipescore/internal/alerts"
	"github.com/pulsecrm/pipescore/internal/metrics"
	"github.com/pulsecrm/pipescore/internal/persistence"
)

// recordingSink captures alerts emitted by the runner.
type recordingSink struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (s *recordingSink) Emit(_ context.Context, a alerts.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func newTestRunner(store *memStore, sink alerts.Sink) *Runner {
	m := metrics.NewRegistry(prometheus.NewRegistry())
	recalc := NewRecalculator(store.repository(), recalcClock, zerolog.Nop(), m, nil, 4)
	cfg := DefaultBatchConfig()
	cfg.BatchSize = 5
	cfg.BatchDelay = time.Millisecond
	return NewRunner(cfg, recalc, store.repository(), sink, m, recalcClock, zerolog.Nop())
}

func seedStaleDeals(store *memStore, n int) {
	for i := 1; i <= n; i++ {
		mediocreDeal(store, int64(i))
	}
}

func TestRunner_StaleRescoreCountsAddUp(t *testing.T) {
	store := newMemStore(recalcNow)
	seedStaleDeals(store, 12)

	// A fresh score keeps a deal out of the sweep.
	fresh := recalcNow.Add(-1 * time.Hour)
	store.addDeal(persistence.Deal{ID: 100, Status: "sent", SentAt: tPtr(5), LastScoredAt: &fresh})
	// Snoozed deals wait for the snooze to lapse.
	snoozed := recalcNow.Add(24 * time.Hour)
	store.addDeal(persistence.Deal{ID: 101, Status: "sent", SentAt: tPtr(5), SnoozedUntil: &snoozed})
	// Archived deals never rescore.
	archived := recalcNow.Add(-time.Hour)
	store.addDeal(persistence.Deal{ID: 102, Status: "sent", SentAt: tPtr(5), ArchivedAt: &archived})

	r := newTestRunner(store, nil)
	res, err := r.BatchRecalculateStaleScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunTypeDailyCron, res.RunType)
	assert.Equal(t, 12, res.Processed)
	assert.Equal(t, res.Processed, res.Succeeded+res.Failed+res.Skipped)
	assert.Equal(t, 12, res.Succeeded)

	run := store.lastRun()
	require.NotNil(t, run, "every batch appends a run row")
	assert.Equal(t, RunTypeDailyCron, run.RunType)
	assert.Equal(t, res.Processed, run.Processed)
	assert.Equal(t, res.Succeeded, run.Succeeded)

	// All twelve were rescored with the cron trigger.
	for i := 1; i <= 12; i++ {
		hist := store.historyFor(int64(i))
		require.Len(t, hist, 1)
		assert.Equal(t, TriggerDailyCron, hist[0].TriggerSource)
	}
	assert.Empty(t, store.historyFor(100))
	assert.Empty(t, store.historyFor(101))
	assert.Empty(t, store.historyFor(102))
}

func TestRunner_QueueDrainMarksProcessed(t *testing.T) {
	store := newMemStore(recalcNow)
	mediocreDeal(store, 1)
	mediocreDeal(store, 2)
	repos := store.repository()
	require.NoError(t, repos.Events.Enqueue(context.Background(), 1, "email_opened"))
	require.NoError(t, repos.Events.Enqueue(context.Background(), 1, "proposal_viewed"))
	require.NoError(t, repos.Events.Enqueue(context.Background(), 2, "account_created"))

	r := newTestRunner(store, nil)
	res, err := r.ProcessScoreEventQueue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunTypeEventQueue, res.RunType)
	assert.Equal(t, 2, res.Processed, "deal ids are deduplicated")
	assert.Equal(t, 2, res.Succeeded)

	hist := store.historyFor(1)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerTrackingEvent, hist[0].TriggerSource)

	depth, err := repos.Events.UnprocessedCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)

	// A second drain finds nothing.
	res2, err := r.ProcessScoreEventQueue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res2.Processed)
}

func TestRunner_FailuresNeverAbortAndErrorsAreCollected(t *testing.T) {
	store := newMemStore(recalcNow)
	seedStaleDeals(store, 8)
	store.failUpdate[3] = errors.New("deadlock detected")
	store.failUpdate[6] = errors.New("connection reset")

	r := newTestRunner(store, nil)
	res, err := r.BatchRecalculateStaleScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, res.Processed)
	assert.Equal(t, 6, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)

	run := store.lastRun()
	require.NotNil(t, run)
	var logged []BatchError
	require.NoError(t, json.Unmarshal(run.Errors, &logged))
	assert.Len(t, logged, 2)
}

func TestRunner_HighErrorRateEmitsWarning(t *testing.T) {
	store := newMemStore(recalcNow)
	seedStaleDeals(store, 6)
	for i := 1; i <= 4; i++ {
		store.failUpdate[int64(i)] = errors.New("boom")
	}
	sink := &recordingSink{}

	r := newTestRunner(store, sink)
	res, err := r.BatchRecalculateStaleScores(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Failed)
	require.Equal(t, 1, sink.count())
	sink.mu.Lock()
	a := sink.alerts[0]
	sink.mu.Unlock()
	assert.Equal(t, alerts.SeverityWarning, a.Severity)
	assert.Equal(t, "high batch error rate", a.Title)
}

func TestRunner_RunLogErrorsTruncated(t *testing.T) {
	store := newMemStore(recalcNow)
	seedStaleDeals(store, 60)
	for i := 1; i <= 60; i++ {
		store.failUpdate[int64(i)] = fmt.Errorf("failure %d", i)
	}

	r := newTestRunner(store, &recordingSink{})
	res, err := r.BatchRecalculateStaleScores(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Errors, 60, "the in-memory result keeps everything")

	run := store.lastRun()
	require.NotNil(t, run)
	var logged []BatchError
	require.NoError(t, json.Unmarshal(run.Errors, &logged))
	assert.Len(t, logged, 50, "the persisted run row truncates to the first 50")
}

func TestRunner_CancellationKeepsPartialResult(t *testing.T) {
	store := newMemStore(recalcNow)
	seedStaleDeals(store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(store, nil)
	res, err := r.BatchRecalculateStaleScores(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.Processed, "no new chunk starts after cancellation")
	require.NotNil(t, store.lastRun(), "the partial run is still logged")
}

func TestRunner_RecalculateAllActiveIgnoresStaleness(t *testing.T) {
	store := newMemStore(recalcNow)
	mediocreDeal(store, 1)
	fresh := recalcNow.Add(-time.Minute)
	store.addDeal(persistence.Deal{ID: 2, Status: "declined", SentAt: tPtr(5), LastScoredAt: &fresh})

	r := newTestRunner(store, nil)
	res, err := r.RecalculateAllActive(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, RunTypeManual, res.RunType)
	assert.Equal(t, 2, res.Processed)

	hist := store.historyFor(2)
	require.Len(t, hist, 1)
	assert.Equal(t, TriggerManualRefresh, hist[0].TriggerSource)
}

func TestRunner_RunDailyBatchCombinesBothOperations(t *testing.T) {
	store := newMemStore(recalcNow)
	mediocreDeal(store, 1)
	mediocreDeal(store, 2)
	repos := store.repository()
	require.NoError(t, repos.Events.Enqueue(context.Background(), 1, "email_opened"))

	r := newTestRunner(store, nil)
	out, err := r.RunDailyBatch(context.Background())
	require.NoError(t, err)

	require.NotNil(t, out.Queue)
	require.NotNil(t, out.Stale)
	assert.Equal(t, 1, out.Queue.Processed)
	// Deal 1 was just rescored by the queue drain, so only deal 2 is stale.
	assert.Equal(t, 1, out.Stale.Processed)
	assert.GreaterOrEqual(t, out.TotalDurationMS, int64(0))
}
