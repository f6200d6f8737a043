package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/transfer"
	"github.com/agnox/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// WebhookHandler receives telephony and AI conversation events and
// feeds them into the call engine.
type WebhookHandler struct {
	svc    *engine.Service
	logger zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(svc *engine.Service, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		svc:    svc,
		logger: logger.With().Str("component", "webhooks").Logger(),
	}
}

// CallArrived handles POST /webhooks/calls/arrived
func (h *WebhookHandler) CallArrived(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string            `json:"phoneNumber"`
		RoomName    string            `json:"roomName"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" || req.RoomName == "" {
		http.Error(w, `{"error":"phoneNumber and roomName are required"}`, http.StatusBadRequest)
		return
	}

	sess, err := h.svc.OnCallArrived(r.Context(), types.DirectionInbound, req.PhoneNumber, req.RoomName, req.Metadata)
	if err != nil {
		h.logger.Error().Err(err).Str("room", req.RoomName).Msg("failed to handle arriving call")
		http.Error(w, `{"error":"failed to create session"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// CallAnswered handles POST /webhooks/calls/{sessionId}/answered
func (h *WebhookHandler) CallAnswered(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	err := h.svc.OnCallAnswered(r.Context(), sessionID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, `{"error":"session is not dialing"}`, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to handle answered call")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "call answered"})
}

// CallEnded handles POST /webhooks/calls/{sessionId}/ended
func (h *WebhookHandler) CallEnded(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "hangup"
	}

	err := h.svc.OnCallEnded(r.Context(), sessionID, req.Reason)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to handle ended call")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "call ended"})
}

// Transcript handles POST /webhooks/calls/{sessionId}/transcript
func (h *WebhookHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var ev types.TranscriptEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	ev.SessionID = sessionID
	if ev.Speaker == "" || ev.Text == "" {
		http.Error(w, `{"error":"speaker and text are required"}`, http.StatusBadRequest)
		return
	}

	err := h.svc.OnTranscript(ev)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to ingest transcript")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "transcript accepted"})
}

// Handoff handles POST /webhooks/calls/{sessionId}/handoff, the AI
// agent requesting a human takeover.
func (h *WebhookHandler) Handoff(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "ai_handoff"
	}

	err := h.svc.OnHandoffRequested(r.Context(), sessionID, req.Reason)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, `{"error":"session is not handled by the ai"}`, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to handle handoff request")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "handoff accepted"})
}

// TransferAccepted handles POST /webhooks/calls/{sessionId}/transfer/accepted
func (h *WebhookHandler) TransferAccepted(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	err := h.svc.OnTransferAccepted(r.Context(), sessionID)
	if errors.Is(err, transfer.ErrNoPendingTransfer) {
		http.Error(w, `{"error":"no pending transfer"}`, http.StatusNotFound)
		return
	}
	if errors.Is(err, session.ErrInvalidTransition) {
		http.Error(w, `{"error":"session no longer transferable"}`, http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to complete transfer")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "transfer completed"})
}

// TransferRejected handles POST /webhooks/calls/{sessionId}/transfer/rejected
func (h *WebhookHandler) TransferRejected(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "rejected"
	}

	err := h.svc.OnTransferRejected(sessionID, req.Reason)
	if errors.Is(err, transfer.ErrNoPendingTransfer) {
		http.Error(w, `{"error":"no pending transfer"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to fail transfer")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "transfer rolled back"})
}
