package websocket

import (
	"encoding/json"
	"sync"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/metrics"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// AgentHub maintains the set of active agent console connections. It
// is the path call assignments travel to reach a human agent.
type AgentHub struct {
	// Registered agent clients
	agents map[string]*AgentClient // agentID -> client

	// Register requests from agent clients
	register chan *AgentClient

	// Unregister requests from agent clients
	unregister chan *AgentClient

	// Agent registration messages
	agentRegister chan *types.AgentRegister

	// Status change messages from agents
	statusChange chan *types.AgentStatusChange

	// Mutex to protect agents map
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger

	// Agent pool backing the roster
	pool *agentpool.Pool

	// kick requests an immediate routing pass when an agent goes online
	kick func()
}

// NewAgentHub creates a new AgentHub
func NewAgentHub(pool *agentpool.Pool, kick func(), logger zerolog.Logger) *AgentHub {
	return &AgentHub{
		agents:        make(map[string]*AgentClient),
		register:      make(chan *AgentClient),
		unregister:    make(chan *AgentClient),
		agentRegister: make(chan *types.AgentRegister, 100),
		statusChange:  make(chan *types.AgentStatusChange, 500),
		logger:        logger,
		pool:          pool,
		kick:          kick,
	}
}

// Run starts the hub's main loop
func (h *AgentHub) Run() {
	m := metrics.Get()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// Remove existing client with same agentID if any
			if existing, ok := h.agents[client.agentID]; ok {
				existing.Close()
				delete(h.agents, client.agentID)
			}
			h.agents[client.agentID] = client
			h.mu.Unlock()

			m.RecordAgentConnect()

			h.logger.Debug().
				Str("agent_id", client.agentID).
				Int("total_agents", len(h.agents)).
				Msg("agent connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.agents[client.agentID]; ok && existing == client {
				delete(h.agents, client.agentID)
				client.Close()
				m.RecordAgentDisconnect()

				h.logger.Debug().
					Str("agent_id", client.agentID).
					Int("total_agents", len(h.agents)).
					Msg("agent disconnected")
			}
			h.mu.Unlock()

			// A dropped console cannot take calls
			if err := h.pool.SetStatus(client.agentID, types.AgentOffline); err != nil {
				h.logger.Debug().Err(err).Str("agent_id", client.agentID).Msg("offline on disconnect skipped")
			}

		case reg := <-h.agentRegister:
			h.processRegister(reg)

		case sc := <-h.statusChange:
			h.processStatusChange(sc)
		}
	}
}

// processRegister adds or updates the agent in the pool. Agents start
// offline and announce availability with a status message.
func (h *AgentHub) processRegister(reg *types.AgentRegister) {
	capacity := reg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	h.pool.Register(types.Agent{
		ID:          reg.AgentID,
		Name:        reg.Name,
		PhoneNumber: reg.PhoneNumber,
		Capacity:    capacity,
		Skills:      reg.Skills,
	})
	h.logger.Info().
		Str("agent_id", reg.AgentID).
		Int("capacity", capacity).
		Strs("skills", reg.Skills).
		Msg("agent registered over websocket")
}

// processStatusChange applies an availability change. Going online
// kicks the routing loop so waiting calls get matched right away.
func (h *AgentHub) processStatusChange(sc *types.AgentStatusChange) {
	if err := h.pool.SetStatus(sc.AgentID, sc.Status); err != nil {
		h.logger.Warn().Err(err).
			Str("agent_id", sc.AgentID).
			Str("status", string(sc.Status)).
			Msg("failed to apply agent status change")
		return
	}
	if sc.Status == types.AgentOnline && h.kick != nil {
		h.kick()
	}
}

// ForceDisconnect closes the agent's console connection and marks them
// offline
func (h *AgentHub) ForceDisconnect(agentID string) bool {
	h.mu.Lock()
	client, ok := h.agents[agentID]
	if ok {
		delete(h.agents, agentID)
		client.Close()
		metrics.Get().RecordAgentDisconnect()
		h.logger.Info().Str("agent_id", agentID).Msg("agent force-disconnected")
	}
	h.mu.Unlock()

	if ok {
		if err := h.pool.SetStatus(agentID, types.AgentOffline); err != nil {
			h.logger.Debug().Err(err).Str("agent_id", agentID).Msg("offline on force-disconnect skipped")
		}
	}
	return ok
}

// AgentCount returns the number of connected agents
func (h *AgentHub) AgentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.agents)
}

// SendToAgent sends a message to a specific agent. Satisfies the call
// engine's sender dependency.
func (h *AgentHub) SendToAgent(agentID string, message []byte) bool {
	h.mu.RLock()
	client, ok := h.agents[agentID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	return client.safeSend(message)
}

// BroadcastToAgents sends a message to every connected agent console
func (h *AgentHub) BroadcastToAgents(message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.agents {
		client.safeSend(message)
	}
}

func marshalAck(agentID string) []byte {
	data, _ := json.Marshal(types.ServerAck{Type: "ack", AgentID: agentID})
	return data
}
