package api

import (
	"encoding/json"
	"net/http"

	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// QueueHandler provides REST endpoints for the holding queue
type QueueHandler struct {
	queue  *queue.Manager
	svc    *engine.Service
	logger zerolog.Logger
}

// NewQueueHandler creates a new QueueHandler
func NewQueueHandler(q *queue.Manager, svc *engine.Service, logger zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		queue:  q,
		svc:    svc,
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// Stats handles GET /api/queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.queue.Stats())
}

// Position handles GET /api/queue/position/{sessionId}
func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	rank, eta, ok := h.svc.QueuePosition(sessionID)
	if !ok {
		http.Error(w, `{"error":"session is not queued"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessionId":        sessionID,
		"position":         rank,
		"estimatedWaitSec": eta.Seconds(),
	})
}
