package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecrm/pipescore/internal/aggregate"
	"github.com/pulsecrm/pipescore/internal/audit"
	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/pipeline"
	"github.com/pulsecrm/pipescore/internal/scoring"
)

type fakeRecalc struct {
	lastTrigger string
	lastOpts    pipeline.Options
	result      *scoring.Result
	skipped     bool
	err         error
}

func (f *fakeRecalc) TryRecalculate(_ context.Context, id int64, trigger string, opts pipeline.Options) (*scoring.Result, bool, error) {
	f.lastTrigger = trigger
	f.lastOpts = opts
	if f.err != nil {
		return nil, false, f.err
	}
	if f.skipped {
		return nil, true, nil
	}
	res := f.result
	if res == nil {
		res = &scoring.Result{RecommendationID: id, ConfidenceScore: 55}
	}
	return res, false, nil
}

type fakeRunner struct {
	queueResult *pipeline.BatchResult
	err         error
	calls       []string
}

func (f *fakeRunner) ProcessScoreEventQueue(context.Context) (*pipeline.BatchResult, error) {
	f.calls = append(f.calls, "queue")
	return f.queueResult, f.err
}

func (f *fakeRunner) BatchRecalculateStaleScores(context.Context) (*pipeline.BatchResult, error) {
	f.calls = append(f.calls, "stale")
	return &pipeline.BatchResult{RunType: pipeline.RunTypeDailyCron}, f.err
}

func (f *fakeRunner) RecalculateAllActive(_ context.Context, trigger string) (*pipeline.BatchResult, error) {
	f.calls = append(f.calls, "all:"+trigger)
	return &pipeline.BatchResult{RunType: pipeline.RunTypeManual}, f.err
}

func (f *fakeRunner) RunDailyBatch(context.Context) (*pipeline.DailyBatchResult, error) {
	f.calls = append(f.calls, "daily")
	return &pipeline.DailyBatchResult{}, f.err
}

type fakeAudit struct {
	feed *audit.Feed
	err  error
}

func (f *fakeAudit) GetAudit(_ context.Context, id int64) (*audit.Feed, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.feed != nil {
		return f.feed, nil
	}
	return &audit.Feed{RecommendationID: id, Events: []audit.Event{}}, nil
}

type fakeAggregate struct {
	lastFilter  aggregate.Filter
	lastMRR     float64
	lastClients int
}

func (f *fakeAggregate) GetPipelineData(_ context.Context, flt aggregate.Filter) (*aggregate.PipelineData, error) {
	f.lastFilter = flt
	return &aggregate.PipelineData{Deals: []aggregate.Deal{}, Reps: []string{"dana"}}, nil
}

func (f *fakeAggregate) GetRevenueSummary(_ context.Context, mrr float64, clients int) (*aggregate.RevenueSummary, error) {
	f.lastMRR = mrr
	f.lastClients = clients
	return &aggregate.RevenueSummary{CurrentMRR: mrr, ActiveClientCount: clients, ProjectedMRR: mrr + 500}, nil
}

type fakeEvents struct {
	queued []string
	depth  int64
	err    error
}

func (f *fakeEvents) Enqueue(_ context.Context, id int64, eventType string) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, eventType)
	return nil
}

func (f *fakeEvents) UnprocessedDealIDs(context.Context) ([]int64, error) { return nil, nil }
func (f *fakeEvents) MarkAllProcessed(context.Context) (int64, error)     { return 0, nil }
func (f *fakeEvents) UnprocessedCount(context.Context) (int64, error)     { return f.depth, f.err }

type fakeRuns struct {
	runs []persistence.ScoringRun
	err  error
}

func (f *fakeRuns) Insert(context.Context, persistence.ScoringRun) error { return nil }

func (f *fakeRuns) ListRecent(_ context.Context, limit int) ([]persistence.ScoringRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fixture struct {
	recalc    *fakeRecalc
	runner    *fakeRunner
	audit     *fakeAudit
	aggregate *fakeAggregate
	events    *fakeEvents
	runs      *fakeRuns
	handlers  *Handlers
}

func newFixture() *fixture {
	f := &fixture{
		recalc:    &fakeRecalc{},
		runner:    &fakeRunner{},
		audit:     &fakeAudit{},
		aggregate: &fakeAggregate{},
		events:    &fakeEvents{},
		runs:      &fakeRuns{},
	}
	f.handlers = New(Deps{
		Recalc:    f.recalc,
		Runner:    f.runner,
		Audit:     f.audit,
		Aggregate: f.aggregate,
		Events:    f.events,
		Runs:      f.runs,
		Log:       zerolog.Nop(),
	})
	return f
}

// router mounts the handlers the way the server does so mux path vars
// resolve in tests.
func (f *fixture) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", f.handlers.Health).Methods("GET")
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", f.handlers.Status).Methods("GET")
	v1.HandleFunc("/deals/{id}/recalculate", f.handlers.Recalculate).Methods("POST")
	v1.HandleFunc("/deals/{id}/events", f.handlers.EnqueueEvent).Methods("POST")
	v1.HandleFunc("/deals/{id}/audit", f.handlers.Audit).Methods("GET")
	v1.HandleFunc("/pipeline", f.handlers.Pipeline).Methods("GET")
	v1.HandleFunc("/pipeline/summary", f.handlers.PipelineSummary).Methods("GET")
	v1.HandleFunc("/batch/{kind}", f.handlers.RunBatch).Methods("POST")
	v1.HandleFunc("/runs", f.handlers.Runs).Methods("GET")
	r.NotFoundHandler = http.HandlerFunc(f.handlers.NotFound)
	return r
}

func do(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRecalculateOK(t *testing.T) {
	f := newFixture()
	f.recalc.result = &scoring.Result{RecommendationID: 7, ConfidenceScore: 49, WeightedMonthly: 245}

	rec := do(t, f.router(), "POST", "/v1/deals/7/recalculate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res scoring.Result
	decode(t, rec, &res)
	assert.Equal(t, int64(7), res.RecommendationID)
	assert.Equal(t, 49, res.ConfidenceScore)
	assert.Equal(t, pipeline.TriggerManualRefresh, f.recalc.lastTrigger)
	assert.True(t, f.recalc.lastOpts.SkipTerminal)
}

func TestRecalculateForceClearsSkip(t *testing.T) {
	f := newFixture()
	do(t, f.router(), "POST", "/v1/deals/7/recalculate?force=true&trigger=daily_cron", "")
	assert.False(t, f.recalc.lastOpts.SkipTerminal)
	assert.Equal(t, pipeline.TriggerDailyCron, f.recalc.lastTrigger)
}

func TestRecalculateSkippedTerminal(t *testing.T) {
	f := newFixture()
	f.recalc.skipped = true

	rec := do(t, f.router(), "POST", "/v1/deals/7/recalculate", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["skipped"])
}

func TestRecalculateNotFound(t *testing.T) {
	f := newFixture()
	f.recalc.err = persistence.ErrNotFound

	rec := do(t, f.router(), "POST", "/v1/deals/999/recalculate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecalculateBadInput(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "POST", "/v1/deals/abc/recalculate", "").Code)
}

func TestRecalculateFreeFormTrigger(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router(), "POST", "/v1/deals/7/recalculate?trigger=invite_sent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invite_sent", f.recalc.lastTrigger)
}

func TestRecalculateInternalError(t *testing.T) {
	f := newFixture()
	f.recalc.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, f.router(), "POST", "/v1/deals/7/recalculate", "").Code)
}

func TestEnqueueEvent(t *testing.T) {
	f := newFixture()

	rec := do(t, f.router(), "POST", "/v1/deals/7/events", `{"event_type":"email_opened"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"email_opened"}, f.events.queued)
}

func TestEnqueueEventRejectsEmptyType(t *testing.T) {
	f := newFixture()
	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "POST", "/v1/deals/7/events", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "POST", "/v1/deals/7/events", `not json`).Code)
	assert.Empty(t, f.events.queued)
}

func TestAuditFeed(t *testing.T) {
	f := newFixture()
	delta := 5
	f.audit.feed = &audit.Feed{
		RecommendationID: 7,
		Events: []audit.Event{
			{ID: 1, ConfidenceScore: 50, ScoredAt: time.Now().UTC()},
			{ID: 2, ConfidenceScore: 55, ScoreDelta: &delta, ScoredAt: time.Now().UTC()},
		},
	}

	rec := do(t, f.router(), "GET", "/v1/deals/7/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var feed audit.Feed
	decode(t, rec, &feed)
	require.Len(t, feed.Events, 2)
	require.NotNil(t, feed.Events[1].ScoreDelta)
	assert.Equal(t, 5, *feed.Events[1].ScoreDelta)
}

func TestPipelineFilters(t *testing.T) {
	f := newFixture()

	rec := do(t, f.router(), "GET", "/v1/pipeline?owner=dana&bucket=closing_soon", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, aggregate.Filter{Owner: "dana", Bucket: "closing_soon"}, f.aggregate.lastFilter)

	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "GET", "/v1/pipeline?bucket=bogus", "").Code)
}

func TestPipelineSummaryParams(t *testing.T) {
	f := newFixture()

	rec := do(t, f.router(), "GET", "/v1/pipeline/summary?current_mrr=10000&active_clients=12", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10000.0, f.aggregate.lastMRR)
	assert.Equal(t, 12, f.aggregate.lastClients)

	var summary aggregate.RevenueSummary
	decode(t, rec, &summary)
	assert.Equal(t, 10500.0, summary.ProjectedMRR)

	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "GET", "/v1/pipeline/summary?current_mrr=-5", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "GET", "/v1/pipeline/summary?active_clients=x", "").Code)
}

func TestRunBatchKinds(t *testing.T) {
	f := newFixture()
	f.runner.queueResult = &pipeline.BatchResult{RunType: pipeline.RunTypeEventQueue, Processed: 3, Succeeded: 3}
	r := f.router()

	require.Equal(t, http.StatusOK, do(t, r, "POST", "/v1/batch/queue", "").Code)
	require.Equal(t, http.StatusOK, do(t, r, "POST", "/v1/batch/stale", "").Code)
	require.Equal(t, http.StatusOK, do(t, r, "POST", "/v1/batch/all", "").Code)
	require.Equal(t, http.StatusOK, do(t, r, "POST", "/v1/batch/daily", "").Code)
	assert.Equal(t, []string{"queue", "stale", "all:manual_refresh", "daily"}, f.runner.calls)

	assert.Equal(t, http.StatusBadRequest, do(t, r, "POST", "/v1/batch/hourly", "").Code)
}

func TestRunBatchError(t *testing.T) {
	f := newFixture()
	f.runner.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(t, f.router(), "POST", "/v1/batch/queue", "").Code)
}

func TestRunsLimit(t *testing.T) {
	f := newFixture()
	f.runs.runs = []persistence.ScoringRun{
		{RunID: "a"}, {RunID: "b"}, {RunID: "c"},
	}

	rec := do(t, f.router(), "GET", "/v1/runs?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []persistence.ScoringRun `json:"runs"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Runs, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "GET", "/v1/runs?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, f.router(), "GET", "/v1/runs?limit=500", "").Code)
}

func TestStatus(t *testing.T) {
	f := newFixture()
	f.events.depth = 4
	f.runs.runs = []persistence.ScoringRun{{RunID: "a"}}

	rec := do(t, f.router(), "GET", "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, float64(4), body["queue_depth"])
	assert.NotNil(t, body["last_runs"])
}

func TestHealthWithoutBackends(t *testing.T) {
	f := newFixture()

	rec := do(t, f.router(), "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
}

func TestNotFoundRoute(t *testing.T) {
	f := newFixture()
	rec := do(t, f.router(), "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
