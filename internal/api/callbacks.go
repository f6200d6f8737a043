package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agnox/callcore/internal/callback"
	"github.com/agnox/callcore/internal/customer"
	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CallbacksHandler provides REST endpoints for scheduled callbacks
type CallbacksHandler struct {
	callbacks *callback.Scheduler
	svc       *engine.Service
	logger    zerolog.Logger
}

// NewCallbacksHandler creates a new CallbacksHandler
func NewCallbacksHandler(cbs *callback.Scheduler, svc *engine.Service, logger zerolog.Logger) *CallbacksHandler {
	return &CallbacksHandler{
		callbacks: cbs,
		svc:       svc,
		logger:    logger.With().Str("component", "callbacks").Logger(),
	}
}

// Schedule handles POST /api/callbacks
func (h *CallbacksHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID  string    `json:"customerId"`
		ScheduledAt time.Time `json:"scheduledAt"`
		Reason      string    `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.CustomerID == "" || req.ScheduledAt.IsZero() {
		http.Error(w, `{"error":"customerId and scheduledAt are required"}`, http.StatusBadRequest)
		return
	}

	cb, err := h.svc.ScheduleCallback(req.CustomerID, req.ScheduledAt, req.Reason)
	if errors.Is(err, customer.ErrCustomerNotFound) {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("customer_id", req.CustomerID).Msg("failed to schedule callback")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(cb)
}

// Cancel handles DELETE /api/callbacks/{callbackId}
func (h *CallbacksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")

	if err := h.callbacks.Cancel(callbackID); err != nil {
		if errors.Is(err, callback.ErrCallbackNotFound) {
			http.Error(w, `{"error":"callback not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("callback_id", callbackID).Msg("failed to cancel callback")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "callback cancelled"})
}

// Get handles GET /api/callbacks/{callbackId}
func (h *CallbacksHandler) Get(w http.ResponseWriter, r *http.Request) {
	callbackID := chi.URLParam(r, "callbackId")

	cb, ok := h.callbacks.Get(callbackID)
	if !ok {
		http.Error(w, `{"error":"callback not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cb)
}

// ForCustomer handles GET /api/customers/{customerId}/callbacks
func (h *CallbacksHandler) ForCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	cbs := h.callbacks.ForCustomer(customerID)
	if cbs == nil {
		cbs = []types.Callback{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cbs)
}
