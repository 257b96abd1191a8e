package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/metrics"
	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/scoring"
)

// Recalculation outcomes as recorded on the recalc counter.
const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// Options tune a single recalculation.
type Options struct {
	// SkipTerminal leaves accepted and closed_lost deals untouched; their
	// scores are pinned by the status short-circuit and rewriting them
	// only churns history. Force-recalcs clear it.
	SkipTerminal bool
}

// DefaultOptions skips terminal-status deals.
func DefaultOptions() Options {
	return Options{SkipTerminal: true}
}

// SummaryInvalidator drops cached dashboard aggregates after a score
// changes. The Redis cache implements it; nil disables invalidation.
type SummaryInvalidator interface {
	InvalidateSummary(ctx context.Context)
}

// Recalculator runs the assemble, compute, write sequence for one deal.
// It is the one component external triggers call, so it converts every
// failure into a logged nil result: a scoring problem must never break
// invite acceptance or any other caller's primary flow.
type Recalculator struct {
	assembler  *Assembler
	writer     *Writer
	config     *ConfigStore
	log        zerolog.Logger
	metrics    *metrics.Registry
	invalidate SummaryInvalidator
	workers    int
}

// NewRecalculator wires the orchestrator. m and inv may be nil; workers
// bounds RecalculateMany's parallelism and falls back to the batch default
// when not positive.
func NewRecalculator(repos *persistence.Repository, clock Clock, log zerolog.Logger, m *metrics.Registry, inv SummaryInvalidator, workers int) *Recalculator {
	if workers <= 0 {
		workers = DefaultBatchConfig().BatchSize
	}
	return &Recalculator{
		assembler:  NewAssembler(repos, clock),
		writer:     NewWriter(repos.Deals, repos.History, log),
		config:     NewConfigStore(repos.Settings, log),
		log:        log,
		metrics:    m,
		invalidate: inv,
		workers:    workers,
	}
}

// Recalculate rescores one deal and returns the result, or nil when the
// deal was skipped or anything failed. Errors never propagate.
func (r *Recalculator) Recalculate(ctx context.Context, id int64, trigger string, opts Options) *scoring.Result {
	res, skipped, err := r.TryRecalculate(ctx, id, trigger, opts)
	if err != nil {
		r.log.Error().Err(err).
			Int64("recommendation_id", id).
			Str("trigger", trigger).
			Msg("recalculation failed")
		return nil
	}
	if skipped {
		return nil
	}
	return res
}

// RecalculateMany rescores ids in parallel under the worker bound. The
// returned slice is aligned with ids; failed or skipped entries are nil.
func (r *Recalculator) RecalculateMany(ctx context.Context, ids []int64, trigger string) []*scoring.Result {
	results := make([]*scoring.Result, len(ids))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id int64) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.Recalculate(ctx, id, trigger, DefaultOptions())
		}(i, id)
	}
	wg.Wait()
	return results
}

// TryRecalculate is the precise form: (result, skipped, error). The batch
// runner and the HTTP layer classify outcomes with it; everything else
// uses Recalculate. It records metrics and invalidates the summary cache
// on success.
func (r *Recalculator) TryRecalculate(ctx context.Context, id int64, trigger string, opts Options) (*scoring.Result, bool, error) {
	start := time.Now()

	in, err := r.assembler.Assemble(ctx, id)
	if err != nil {
		r.metrics.ObserveRecalc(trigger, outcomeError, time.Since(start).Seconds())
		return nil, false, err
	}

	if opts.SkipTerminal && (in.Status == scoring.StatusAccepted || in.Status == scoring.StatusClosedLost) {
		r.metrics.ObserveRecalc(trigger, outcomeSkipped, time.Since(start).Seconds())
		r.log.Debug().
			Int64("recommendation_id", id).
			Str("status", in.Status).
			Str("trigger", trigger).
			Msg("terminal status, recalculation skipped")
		return nil, true, nil
	}

	cfg := r.config.Load(ctx)
	res := scoring.NewEngine(cfg).Compute(in)

	if err := r.writer.Write(ctx, trigger, res); err != nil {
		r.metrics.ObserveRecalc(trigger, outcomeError, time.Since(start).Seconds())
		return nil, false, err
	}

	if r.invalidate != nil {
		r.invalidate.InvalidateSummary(ctx)
	}
	r.metrics.ObserveRecalc(trigger, outcomeOK, time.Since(start).Seconds())

	r.log.Debug().
		Int64("recommendation_id", id).
		Str("trigger", trigger).
		Int("confidence_score", res.ConfidenceScore).
		Float64("weighted_monthly", res.WeightedMonthly).
		Msg("recalculated")
	return &res, false, nil
}
