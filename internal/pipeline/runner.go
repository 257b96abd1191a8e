package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pulsecrm/pipescore/internal/alerts"
	"github.com/pulsecrm/pipescore/internal/metrics"
	"github.com/pulsecrm/pipescore/internal/persistence"
)

// Run types recorded in the scoring run log.
const (
	RunTypeDailyCron  = "daily_cron"
	RunTypeEventQueue = "event_queue"
	RunTypeManual     = "manual"
)

// Canonical trigger sources the runner emits. Trigger sources are free-form
// strings on history rows; these are just the ones this package uses.
const (
	TriggerTrackingEvent = "tracking_event"
	TriggerDailyCron     = "daily_cron"
	TriggerManualRefresh = "manual_refresh"
)

// BatchConfig tunes the batch runner.
type BatchConfig struct {
	// BatchSize is how many deals are in flight at once; the database pool
	// must accommodate this many concurrent queries.
	BatchSize int `yaml:"batch_size"`
	// BatchDelay is the pause between consecutive chunks.
	BatchDelay time.Duration `yaml:"batch_delay"`
	// StaleAfter is the rescore threshold. 23 hours rather than 24 so a
	// cron tick that fires slightly early still picks up yesterday's rows.
	StaleAfter time.Duration `yaml:"stale_after"`
	// AlertErrorRate is the failed/processed ratio above which a warning
	// alert is emitted.
	AlertErrorRate float64 `yaml:"alert_error_rate"`
	// MaxLoggedErrors caps the errors persisted on the run row.
	MaxLoggedErrors int `yaml:"max_logged_errors"`
}

// DefaultBatchConfig returns the production batch settings.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:       25,
		BatchDelay:      200 * time.Millisecond,
		StaleAfter:      23 * time.Hour,
		AlertErrorRate:  0.5,
		MaxLoggedErrors: 50,
	}
}

// BatchError is one failed recalculation inside a batch.
type BatchError struct {
	RecommendationID int64  `json:"recommendation_id"`
	Message          string `json:"message"`
}

// BatchResult reports one batch operation. Processed always equals
// Succeeded + Failed + Skipped, including after a cancellation cut the
// run short.
type BatchResult struct {
	RunID      string       `json:"run_id"`
	RunType    string       `json:"run_type"`
	Processed  int          `json:"processed"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	DurationMS int64        `json:"duration_ms"`
	Errors     []BatchError `json:"errors,omitempty"`
}

// ErrorRate is failed over processed, 0 for an empty run.
func (r *BatchResult) ErrorRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Processed)
}

// DailyBatchResult combines the two operations of the daily job.
type DailyBatchResult struct {
	Queue           *BatchResult `json:"queue"`
	Stale           *BatchResult `json:"stale"`
	TotalDurationMS int64        `json:"total_duration_ms"`
}

// Runner drains the score event queue and rescans stale deals under
// bounded concurrency. One failed deal never aborts a run; every run is
// appended to the scoring run log whether it finished cleanly or not.
type Runner struct {
	cfg     BatchConfig
	recalc  *Recalculator
	deals   persistence.DealsRepo
	events  persistence.EventsRepo
	runs    persistence.RunsRepo
	alerts  alerts.Sink
	metrics *metrics.Registry
	log     zerolog.Logger
	clock   Clock
}

// NewRunner wires the batch runner. sink and m may be nil; zero-valued cfg
// fields take their defaults.
func NewRunner(cfg BatchConfig, recalc *Recalculator, repos *persistence.Repository, sink alerts.Sink, m *metrics.Registry, clock Clock, log zerolog.Logger) *Runner {
	def := DefaultBatchConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = def.BatchDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.AlertErrorRate <= 0 {
		cfg.AlertErrorRate = def.AlertErrorRate
	}
	if cfg.MaxLoggedErrors <= 0 {
		cfg.MaxLoggedErrors = def.MaxLoggedErrors
	}
	if clock == nil {
		clock = UTCNow
	}
	return &Runner{
		cfg:     cfg,
		recalc:  recalc,
		deals:   repos.Deals,
		events:  repos.Events,
		runs:    repos.Runs,
		alerts:  sink,
		metrics: m,
		log:     log,
		clock:   clock,
	}
}

// ProcessScoreEventQueue drains the queue: every deal with an unprocessed
// tracking event is rescored, then all unprocessed events are stamped.
// Stamping after the drain is idempotent, so concurrent drainers are safe.
func (r *Runner) ProcessScoreEventQueue(ctx context.Context) (*BatchResult, error) {
	ids, err := r.events.UnprocessedDealIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read score event queue: %w", err)
	}

	res := r.run(ctx, RunTypeEventQueue, TriggerTrackingEvent, ids)

	if _, err := r.events.MarkAllProcessed(ctx); err != nil {
		r.log.Error().Err(err).Msg("failed to mark score events processed, they will re-drain next run")
	}
	if depth, err := r.events.UnprocessedCount(ctx); err == nil {
		r.metrics.SetQueueDepth(depth)
	}
	return res, nil
}

// BatchRecalculateStaleScores rescans active deals whose score is older
// than the stale threshold or missing, oldest first. Snoozed deals are
// left alone until the snooze lapses.
func (r *Runner) BatchRecalculateStaleScores(ctx context.Context) (*BatchResult, error) {
	now := r.clock()
	ids, err := r.deals.ListStaleIDs(ctx, now.Add(-r.cfg.StaleAfter), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale deals: %w", err)
	}
	return r.run(ctx, RunTypeDailyCron, TriggerDailyCron, ids), nil
}

// RecalculateAllActive rescores every non-archived sent or declined deal
// regardless of staleness. trigger defaults to manual_refresh.
func (r *Runner) RecalculateAllActive(ctx context.Context, trigger string) (*BatchResult, error) {
	if trigger == "" {
		trigger = TriggerManualRefresh
	}
	ids, err := r.deals.ListActiveIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active deals: %w", err)
	}
	return r.run(ctx, RunTypeManual, trigger, ids), nil
}

// RunDailyBatch performs the daily job: drain the event queue, then rescan
// stale deals.
func (r *Runner) RunDailyBatch(ctx context.Context) (*DailyBatchResult, error) {
	start := time.Now()

	queue, err := r.ProcessScoreEventQueue(ctx)
	if err != nil {
		return nil, err
	}

	stale, err := r.BatchRecalculateStaleScores(ctx)
	if err != nil {
		return &DailyBatchResult{Queue: queue, TotalDurationMS: time.Since(start).Milliseconds()}, err
	}

	out := &DailyBatchResult{
		Queue:           queue,
		Stale:           stale,
		TotalDurationMS: time.Since(start).Milliseconds(),
	}
	r.log.Info().
		Int("queue_processed", queue.Processed).
		Int("stale_processed", stale.Processed).
		Int64("total_duration_ms", out.TotalDurationMS).
		Msg("daily batch complete")
	return out, nil
}

// run processes ids in chunks of BatchSize, each chunk in parallel, pacing
// chunk starts with a rate limiter. Cancellation lets the in-flight chunk
// finish and stops starting new ones; the partial result is still logged
// and appended to the run log.
func (r *Runner) run(ctx context.Context, runType, trigger string, ids []int64) *BatchResult {
	start := time.Now()
	res := &BatchResult{RunID: uuid.New().String(), RunType: runType}

	r.log.Info().
		Str("run_id", res.RunID).
		Str("run_type", runType).
		Int("deals", len(ids)).
		Msg("batch run started")

	limiter := rate.NewLimiter(rate.Every(r.cfg.BatchDelay), 1)
	var mu sync.Mutex

	for offset := 0; offset < len(ids); offset += r.cfg.BatchSize {
		if err := limiter.Wait(ctx); err != nil {
			r.log.Warn().
				Str("run_id", res.RunID).
				Int("processed", res.Processed).
				Int("remaining", len(ids)-offset).
				Msg("batch run cancelled, partial result kept")
			break
		}

		end := offset + r.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[offset:end] {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, skipped, err := r.recalc.TryRecalculate(ctx, id, trigger, DefaultOptions())

				mu.Lock()
				defer mu.Unlock()
				res.Processed++
				switch {
				case err != nil:
					res.Failed++
					res.Errors = append(res.Errors, BatchError{RecommendationID: id, Message: err.Error()})
					r.log.Error().Err(err).
						Str("run_id", res.RunID).
						Int64("recommendation_id", id).
						Msg("batch recalculation failed")
				case skipped:
					res.Skipped++
				default:
					res.Succeeded++
				}
			}(id)
		}
		wg.Wait()
	}

	res.DurationMS = time.Since(start).Milliseconds()
	r.finish(ctx, res)
	return res
}

// finish alerts on a high error rate, records metrics, logs the outcome,
// and appends the run row. Run-log failures do not fail the run.
func (r *Runner) finish(ctx context.Context, res *BatchResult) {
	errorRate := res.ErrorRate()
	outcome := outcomeOK
	if errorRate > r.cfg.AlertErrorRate {
		outcome = "high_error_rate"
		if r.alerts != nil {
			r.alerts.Emit(ctx, alerts.Alert{
				Severity: alerts.SeverityWarning,
				Title:    "high batch error rate",
				Message:  fmt.Sprintf("%d of %d recalculations failed in %s run", res.Failed, res.Processed, res.RunType),
				Fields: map[string]interface{}{
					"run_id":     res.RunID,
					"run_type":   res.RunType,
					"processed":  res.Processed,
					"failed":     res.Failed,
					"error_rate": errorRate,
				},
				At: r.clock(),
			})
		}
	}
	r.metrics.ObserveBatch(res.RunType, outcome, float64(res.DurationMS)/1000, errorRate)

	r.log.Info().
		Str("run_id", res.RunID).
		Str("run_type", res.RunType).
		Int("processed", res.Processed).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Int64("duration_ms", res.DurationMS).
		Msg("batch run complete")

	logged := res.Errors
	if len(logged) > r.cfg.MaxLoggedErrors {
		logged = logged[:r.cfg.MaxLoggedErrors]
	}
	var errsJSON json.RawMessage
	if len(logged) > 0 {
		if raw, err := json.Marshal(logged); err == nil {
			errsJSON = raw
		}
	}

	run := persistence.ScoringRun{
		RunID:       res.RunID,
		RunType:     res.RunType,
		Processed:   res.Processed,
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Skipped:     res.Skipped,
		DurationMS:  res.DurationMS,
		Errors:      errsJSON,
		CompletedAt: r.clock(),
	}
	if err := r.runs.Insert(ctx, run); err != nil {
		r.log.Error().Err(err).Str("run_id", res.RunID).Msg("failed to append scoring run log")
	}
}
