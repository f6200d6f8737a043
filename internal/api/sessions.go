package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/transfer"
	"github.com/agnox/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionsHandler provides REST endpoints for live sessions and
// historical session records.
type SessionsHandler struct {
	sessions *store.SessionStore
	svc      *engine.Service
	durable  storage.Store
	logger   zerolog.Logger
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(sessions *store.SessionStore, svc *engine.Service, durable storage.Store, logger zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		svc:      svc,
		durable:  durable,
		logger:   logger.With().Str("component", "sessions").Logger(),
	}
}

// ListActive handles GET /api/sessions
func (h *SessionsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.sessions.Active())
}

// Get handles GET /api/sessions/{sessionId}
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

// Transcript handles GET /api/sessions/{sessionId}/transcript. Live
// sessions answer from memory; ended sessions fall through to the
// durable store.
func (h *SessionsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	events, err := h.sessions.Transcript(sessionID)
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
		return
	}

	records, derr := h.durable.GetTranscript(sessionID)
	if derr != nil {
		h.logger.Error().Err(derr).Str("session_id", sessionID).Msg("failed to load transcript")
		http.Error(w, `{"error":"failed to retrieve transcript"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.TranscriptRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// Transfers handles GET /api/sessions/{sessionId}/transfers
func (h *SessionsHandler) Transfers(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	transfers, err := h.sessions.Transfers(sessionID)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	if transfers == nil {
		transfers = []types.TransferRequest{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transfers)
}

// History handles GET /api/sessions/history?date=YYYY-MM-DD
func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}

	records, err := h.durable.GetSessions(date)
	if err != nil {
		h.logger.Error().Err(err).Str("date", date).Msg("failed to load session history")
		http.Error(w, `{"error":"failed to retrieve history"}`, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []types.SessionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// StartOutbound handles POST /api/calls/outbound
func (h *SessionsHandler) StartOutbound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, `{"error":"phoneNumber is required"}`, http.StatusBadRequest)
		return
	}

	sess, err := h.svc.StartOutbound(r.Context(), req.PhoneNumber)
	if err != nil {
		h.logger.Error().Err(err).Str("phone", req.PhoneNumber).Msg("failed to start outbound call")
		http.Error(w, `{"error":"failed to place call"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

// RequestTransfer handles POST /api/sessions/{sessionId}/transfer, a
// supervisor or agent manually starting a transfer.
func (h *SessionsHandler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	var req struct {
		TargetAgentID string             `json:"targetAgentId,omitempty"`
		Kind          types.TransferKind `json:"kind,omitempty"`
		Reason        string             `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = types.TransferWarm
	}
	if req.Kind != types.TransferWarm && req.Kind != types.TransferCold {
		http.Error(w, `{"error":"kind must be warm or cold"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	tr, err := h.svc.Transfers().Request(r.Context(), sessionID, req.TargetAgentID, req.Kind, req.Reason)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	case errors.Is(err, transfer.ErrNoTargetAgent):
		http.Error(w, `{"error":"no eligible target agent"}`, http.StatusConflict)
		return
	case errors.Is(err, transfer.ErrTransferInFlight):
		http.Error(w, `{"error":"transfer already in flight"}`, http.StatusConflict)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, `{"error":"session cannot transfer from its current state"}`, http.StatusConflict)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to request transfer")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(tr)
}
