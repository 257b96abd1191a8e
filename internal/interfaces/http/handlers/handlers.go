// Package handlers implements the admin HTTP endpoints wrapping the
// scoring pipeline's programmatic surface.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/aggregate"
	"github.com/pulsecrm/pipescore/internal/audit"
	"github.com/pulsecrm/pipescore/internal/infrastructure/db"
	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/pipeline"
	"github.com/pulsecrm/pipescore/internal/scoring"
)

// Recalculator is the single-deal surface the deal endpoints call.
type Recalculator interface {
	TryRecalculate(ctx context.Context, id int64, trigger string, opts pipeline.Options) (*scoring.Result, bool, error)
}

// BatchRunner is the batch surface behind /v1/batch.
type BatchRunner interface {
	ProcessScoreEventQueue(ctx context.Context) (*pipeline.BatchResult, error)
	BatchRecalculateStaleScores(ctx context.Context) (*pipeline.BatchResult, error)
	RecalculateAllActive(ctx context.Context, trigger string) (*pipeline.BatchResult, error)
	RunDailyBatch(ctx context.Context) (*pipeline.DailyBatchResult, error)
}

// Auditor serves the audit feed.
type Auditor interface {
	GetAudit(ctx context.Context, recommendationID int64) (*audit.Feed, error)
}

// Aggregator serves the pipeline dashboard reads.
type Aggregator interface {
	GetPipelineData(ctx context.Context, f aggregate.Filter) (*aggregate.PipelineData, error)
	GetRevenueSummary(ctx context.Context, currentMRR float64, activeClientCount int) (*aggregate.RevenueSummary, error)
}

// Deps are the collaborators the handlers call into. DBHealth and
// CacheHealth may be nil when the corresponding backend is not wired
// (tests, degraded mode).
type Deps struct {
	Recalc    Recalculator
	Runner    BatchRunner
	Audit     Auditor
	Aggregate Aggregator
	Events    persistence.EventsRepo
	Runs      persistence.RunsRepo

	DBHealth    func(ctx context.Context) db.HealthCheck
	CacheHealth func(ctx context.Context) error
	Snapshot    func() (map[string]float64, error)

	Log zerolog.Logger
}

// Handlers bundles the endpoint implementations.
type Handlers struct {
	deps    Deps
	started time.Time
}

// New creates the handler bundle.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps, started: time.Now().UTC()}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.deps.Log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// NotFound is the router's fallback handler.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "not_found", "unknown route: "+r.URL.Path)
}
