package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/pipeline"
)

func dealID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// Recalculate recomputes one deal synchronously. Terminal-status deals
// are left alone and answered 202 unless force=true. The trigger string
// is free-form; it only labels the history row.
func (h *Handlers) Recalculate(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_deal_id", "deal id must be an integer")
		return
	}

	trigger := r.URL.Query().Get("trigger")
	if trigger == "" {
		trigger = pipeline.TriggerManualRefresh
	}

	opts := pipeline.DefaultOptions()
	if r.URL.Query().Get("force") == "true" {
		opts.SkipTerminal = false
	}

	res, skipped, err := h.deps.Recalc.TryRecalculate(r.Context(), id, trigger, opts)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "deal_not_found", "no deal with id "+mux.Vars(r)["id"])
	case err != nil:
		h.deps.Log.Error().Err(err).Int64("recommendation_id", id).Msg("recalculate failed")
		h.writeError(w, http.StatusInternalServerError, "recalculate_failed", err.Error())
	case skipped:
		h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"recommendation_id": id,
			"skipped":           true,
			"reason":            "terminal status, pass force=true to rescore",
		})
	default:
		h.writeJSON(w, http.StatusOK, res)
	}
}

type enqueueRequest struct {
	EventType string `json:"event_type"`
}

// EnqueueEvent queues a tracking event for the next batch drain. The
// write path stays cheap: no scoring happens inline.
func (h *Handlers) EnqueueEvent(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_deal_id", "deal id must be an integer")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventType == "" {
		h.writeError(w, http.StatusBadRequest, "bad_request", "body must be JSON with a non-empty event_type")
		return
	}

	if err := h.deps.Events.Enqueue(r.Context(), id, req.EventType); err != nil {
		h.deps.Log.Error().Err(err).Int64("recommendation_id", id).Msg("enqueue failed")
		h.writeError(w, http.StatusInternalServerError, "enqueue_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"recommendation_id": id,
		"event_type":        req.EventType,
		"queued":            true,
	})
}

// Audit returns the change-annotated score history for one deal.
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "bad_deal_id", "deal id must be an integer")
		return
	}

	feed, err := h.deps.Audit.GetAudit(r.Context(), id)
	if err != nil {
		h.deps.Log.Error().Err(err).Int64("recommendation_id", id).Msg("audit load failed")
		h.writeError(w, http.StatusInternalServerError, "audit_failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, feed)
}
