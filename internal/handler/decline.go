package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"decline-notifier/internal/history"
	"decline-notifier/internal/logger"
	"decline-notifier/internal/model"
	"decline-notifier/internal/queue"
	"decline-notifier/internal/worker"
)

// Canceller drops a live decline job.
type Canceller interface {
	Cancel(ctx context.Context, callID string) error
}

// maxBodyBytes bounds the enqueue payload.
const maxBodyBytes = 64 << 10

// DeclineRequest is the enqueue payload from the calling app.
type DeclineRequest struct {
	CallID      string `json:"call_id"`
	BaseURL     string `json:"base_url"`
	ReceiverID  string `json:"receiver_id"`
	ActionToken string `json:"action_token"`
}

type DeclineHandler struct {
	queue   queue.Queue
	cancel  Canceller
	history history.Log
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewDeclineHandler wires the HTTP surface. limiter and hist may be nil.
func NewDeclineHandler(q queue.Queue, c Canceller, hist history.Log, limiter *rate.Limiter) *DeclineHandler {
	return &DeclineHandler{
		queue:   q,
		cancel:  c,
		history: hist,
		limiter: limiter,
		log:     logger.Named("handler"),
	}
}

// Routes registers the decline endpoints on mux.
func (h *DeclineHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /decline", h.enqueue)
	mux.HandleFunc("DELETE /decline/{call_id}", h.cancelJob)
	mux.HandleFunc("GET /decline/{call_id}/attempts", h.attempts)
}

func (h *DeclineHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		http.Error(w, "Too many decline requests, please try again later", http.StatusTooManyRequests)
		return
	}

	var req DeclineRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	task, ok, err := worker.Submit(r.Context(), h.queue, req.CallID, req.BaseURL, req.ReceiverID, req.ActionToken)
	switch {
	case errors.Is(err, model.ErrValidation):
		h.log.Errorw("Rejected decline request", logger.FieldCallID, req.CallID, logger.FieldError, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		// If the queue is unavailable, return 503 to backpressure the caller
		h.log.Errorw("Failed to enqueue decline", logger.FieldCallID, req.CallID, logger.FieldError, err)
		http.Error(w, "System busy, please try again later", http.StatusServiceUnavailable)
		return
	case !ok:
		h.log.Infow("Decline already queued, keeping existing job", logger.FieldCallID, req.CallID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "call_id": req.CallID})
		return
	}

	h.log.Infow("Decline queued", logger.FieldCallID, req.CallID, logger.FieldTaskID, task.ID)
	// Return 202 Accepted immediately
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "task_id": task.ID})
}

func (h *DeclineHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if h.cancel == nil {
		http.Error(w, "Cancellation not supported", http.StatusNotImplemented)
		return
	}
	if err := h.cancel.Cancel(r.Context(), callID); err != nil {
		h.log.Errorw("Failed to cancel decline", logger.FieldCallID, callID, logger.FieldError, err)
		http.Error(w, "System busy, please try again later", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DeclineHandler) attempts(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("call_id")
	if h.history == nil {
		writeJSON(w, http.StatusOK, []history.Record{})
		return
	}
	recs, err := h.history.List(r.Context(), callID)
	if err != nil {
		h.log.Errorw("Failed to list attempts", logger.FieldCallID, callID, logger.FieldError, err)
		http.Error(w, "Failed to list attempts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
