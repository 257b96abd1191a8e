package handlers

import (
	"net/http"
	"strconv"

	"github.com/pulsecrm/pipescore/internal/aggregate"
)

var validBuckets = map[string]bool{
	aggregate.BucketClosingSoon: true,
	aggregate.BucketInPipeline:  true,
	aggregate.BucketAtRisk:      true,
	aggregate.BucketOnHold:      true,
}

// Pipeline serves the bucketed dashboard view, optionally narrowed by
// owner and bucket.
func (h *Handlers) Pipeline(w http.ResponseWriter, r *http.Request) {
	f := aggregate.Filter{
		Owner:  r.URL.Query().Get("owner"),
		Bucket: r.URL.Query().Get("bucket"),
	}
	if f.Bucket != "" && !validBuckets[f.Bucket] {
		h.writeError(w, http.StatusBadRequest, "bad_bucket", "unknown bucket: "+f.Bucket)
		return
	}

	data, err := h.deps.Aggregate.GetPipelineData(r.Context(), f)
	if err != nil {
		h.deps.Log.Error().Err(err).Msg("pipeline load failed")
		h.writeError(w, http.StatusInternalServerError, "pipeline_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, data)
}

// PipelineSummary serves the MRR projection. current_mrr and
// active_clients describe the caller's book of business and default to
// zero.
func (h *Handlers) PipelineSummary(w http.ResponseWriter, r *http.Request) {
	var (
		currentMRR    float64
		activeClients int
	)
	if raw := r.URL.Query().Get("current_mrr"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			h.writeError(w, http.StatusBadRequest, "bad_current_mrr", "current_mrr must be a non-negative number")
			return
		}
		currentMRR = v
	}
	if raw := r.URL.Query().Get("active_clients"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.writeError(w, http.StatusBadRequest, "bad_active_clients", "active_clients must be a non-negative integer")
			return
		}
		activeClients = v
	}

	summary, err := h.deps.Aggregate.GetRevenueSummary(r.Context(), currentMRR, activeClients)
	if err != nil {
		h.deps.Log.Error().Err(err).Msg("revenue summary failed")
		h.writeError(w, http.StatusInternalServerError, "summary_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}
