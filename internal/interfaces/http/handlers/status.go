package handlers

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	UptimeSec int64       `json:"uptime_sec"`
	Database  interface{} `json:"database,omitempty"`
	Cache     string      `json:"cache,omitempty"`
}

// Health reports liveness plus backend reachability. Degraded backends
// flip the status but the endpoint still answers 200 so load balancers
// keep routing to a process that can serve cached reads.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}

	if h.deps.DBHealth != nil {
		check := h.deps.DBHealth(r.Context())
		resp.Database = check
		if !check.Healthy {
			resp.Status = "degraded"
		}
	}
	if h.deps.CacheHealth != nil {
		if err := h.deps.CacheHealth(r.Context()); err != nil {
			resp.Cache = "unreachable: " + err.Error()
			resp.Status = "degraded"
		} else {
			resp.Cache = "ok"
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	UptimeSec  int64              `json:"uptime_sec"`
	QueueDepth int64              `json:"queue_depth"`
	LastRuns   interface{}        `json:"last_runs"`
	Counters   map[string]float64 `json:"counters,omitempty"`
}

// Status is the operator view: queue depth, recent batch runs, and the
// process counters.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		UptimeSec: int64(time.Since(h.started).Seconds()),
	}

	if h.deps.Events != nil {
		depth, err := h.deps.Events.UnprocessedCount(r.Context())
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
			return
		}
		resp.QueueDepth = depth
	}
	if h.deps.Runs != nil {
		runs, err := h.deps.Runs.ListRecent(r.Context(), 5)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
			return
		}
		resp.LastRuns = runs
	}
	if h.deps.Snapshot != nil {
		counters, err := h.deps.Snapshot()
		if err == nil {
			resp.Counters = counters
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
