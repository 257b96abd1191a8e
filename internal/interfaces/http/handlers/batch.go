package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pulsecrm/pipescore/internal/pipeline"
)

// Batch kinds routable at POST /v1/batch/{kind}.
const (
	batchKindDaily = "daily"
	batchKindQueue = "queue"
	batchKindStale = "stale"
	batchKindAll   = "all"
)

// RunBatch triggers one batch operation synchronously and returns its
// run summary. Batches are serialized by the caller, not here; two
// concurrent drains are wasteful but safe.
func (h *Handlers) RunBatch(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]

	var (
		payload interface{}
		err     error
	)
	switch kind {
	case batchKindDaily:
		payload, err = h.deps.Runner.RunDailyBatch(r.Context())
	case batchKindQueue:
		payload, err = h.deps.Runner.ProcessScoreEventQueue(r.Context())
	case batchKindStale:
		payload, err = h.deps.Runner.BatchRecalculateStaleScores(r.Context())
	case batchKindAll:
		payload, err = h.deps.Runner.RecalculateAllActive(r.Context(), pipeline.TriggerManualRefresh)
	default:
		h.writeError(w, http.StatusBadRequest, "bad_batch_kind", "batch kind must be daily, queue, stale or all")
		return
	}

	if err != nil {
		h.deps.Log.Error().Err(err).Str("kind", kind).Msg("batch run failed")
		h.writeError(w, http.StatusInternalServerError, "batch_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, payload)
}

// Runs lists recent batch run log rows, newest first.
func (h *Handlers) Runs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 200 {
			h.writeError(w, http.StatusBadRequest, "bad_limit", "limit must be between 1 and 200")
			return
		}
		limit = v
	}

	runs, err := h.deps.Runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.deps.Log.Error().Err(err).Msg("run log load failed")
		h.writeError(w, http.StatusInternalServerError, "runs_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}
