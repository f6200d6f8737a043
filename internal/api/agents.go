package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentsHandler provides REST endpoints for the agent roster
type AgentsHandler struct {
	pool   *agentpool.Pool
	svc    *engine.Service
	logger zerolog.Logger
}

// NewAgentsHandler creates a new AgentsHandler
func NewAgentsHandler(pool *agentpool.Pool, svc *engine.Service, logger zerolog.Logger) *AgentsHandler {
	return &AgentsHandler{
		pool:   pool,
		svc:    svc,
		logger: logger.With().Str("component", "agents").Logger(),
	}
}

// Register handles POST /api/agents
func (h *AgentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string   `json:"agentId"`
		Name        string   `json:"name,omitempty"`
		PhoneNumber string   `json:"phoneNumber,omitempty"`
		Capacity    int      `json:"capacity,omitempty"`
		Skills      []string `json:"skills,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		http.Error(w, `{"error":"agentId is required"}`, http.StatusBadRequest)
		return
	}
	if req.Capacity <= 0 {
		req.Capacity = 1
	}

	h.pool.Register(types.Agent{
		ID:          req.AgentID,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Capacity:    req.Capacity,
		Skills:      req.Skills,
	})

	h.logger.Info().Str("agent_id", req.AgentID).Int("capacity", req.Capacity).Msg("agent registered")

	agent, _ := h.pool.Get(req.AgentID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(agent)
}

// SetStatus handles PUT /api/agents/{agentId}/status. Agents going
// online kick an immediate routing pass so waiting calls do not sit
// out the rest of the routing interval.
func (h *AgentsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var req struct {
		Status types.AgentStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	switch req.Status {
	case types.AgentOnline, types.AgentOffline, types.AgentBusy:
	default:
		http.Error(w, `{"error":"status must be online, offline, or busy"}`, http.StatusBadRequest)
		return
	}

	if err := h.pool.SetStatus(agentID, req.Status); err != nil {
		if errors.Is(err, agentpool.ErrAgentNotFound) {
			http.Error(w, `{"error":"agent not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to set agent status")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if req.Status == types.AgentOnline {
		h.svc.KickRouting()
	}

	agent, _ := h.pool.Get(agentID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// List handles GET /api/agents
func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents := h.pool.GetAll()
	if agents == nil {
		agents = []types.Agent{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agents)
}

// Get handles GET /api/agents/{agentId}
func (h *AgentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	agent, ok := h.pool.Get(agentID)
	if !ok {
		http.Error(w, `{"error":"agent not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}
