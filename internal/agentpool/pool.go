package agentpool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// ErrAgentNotFound is returned for operations on unregistered agents
var ErrAgentNotFound = errors.New("agent not found")

// Pool tracks registered agents, their status, load, and skill tags.
// Reserve is the single synchronization point preventing overbooking:
// it atomically checks eligibility and increments load under the pool
// lock, so concurrent reservations can never push an agent past its
// capacity.
type Pool struct {
	mu     sync.RWMutex
	agents map[string]*types.Agent
	logger zerolog.Logger
}

// NewPool creates an empty agent pool.
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		agents: make(map[string]*types.Agent),
		logger: logger,
	}
}

// Register adds or replaces an agent. Capacity is clamped to at least 1.
func (p *Pool) Register(agent types.Agent) {
	if agent.Capacity < 1 {
		agent.Capacity = 1
	}
	if agent.Status == "" {
		agent.Status = types.AgentOffline
	}
	agent.StatusSince = time.Now()

	p.mu.Lock()
	if existing, ok := p.agents[agent.ID]; ok {
		// Re-registering keeps the live load; everything else is replaced.
		agent.Load = existing.Load
	}
	p.agents[agent.ID] = &agent
	p.mu.Unlock()

	p.logger.Info().
		Str("agent_id", agent.ID).
		Str("status", string(agent.Status)).
		Int("capacity", agent.Capacity).
		Strs("skills", agent.Skills).
		Msg("agent registered")
}

// SetStatus transitions an agent's status. Transitioning to offline or
// busy does not end in-progress calls but blocks new assignments.
func (p *Pool) SetStatus(agentID string, status types.AgentStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	if agent.Status == status {
		return nil
	}
	agent.Status = status
	agent.StatusSince = time.Now()

	p.logger.Debug().
		Str("agent_id", agentID).
		Str("status", string(status)).
		Int("load", agent.Load).
		Msg("agent status changed")
	return nil
}

// Reserve atomically checks that the agent is online with spare
// capacity and a matching skill, and on success increments its load.
// A false return means the caller lost the race or the agent became
// ineligible; the caller retries against another candidate.
func (p *Pool) Reserve(agentID, skill string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return false
	}
	if agent.Status != types.AgentOnline || agent.Load >= agent.Capacity || !agent.HasSkill(skill) {
		return false
	}
	agent.Load++
	return true
}

// Release decrements the agent's load. Called exactly once per
// completed or transferred-away session. A release at zero load means
// the reservation discipline was violated somewhere; it is clamped and
// logged as an error rather than corrupting the counter.
func (p *Pool) Release(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.agents[agentID]
	if !ok {
		p.logger.Error().Str("agent_id", agentID).Msg("release for unknown agent")
		return
	}
	if agent.Load == 0 {
		p.logger.Error().Str("agent_id", agentID).Msg("release called with zero load, reservation discipline violated")
		return
	}
	agent.Load--
}

// FindCandidate returns an eligible agent id (online, spare capacity,
// skill match) without reserving it: least-loaded first, ties broken
// by agent id. The caller must still Reserve, which may fail under a
// race.
func (p *Pool) FindCandidate(skill string) (string, bool) {
	return p.FindCandidateExcluding(skill, "")
}

// FindCandidateExcluding is FindCandidate with one agent ruled out,
// used when transferring away from the current agent.
func (p *Pool) FindCandidateExcluding(skill, excludeID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *types.Agent
	for _, agent := range p.agents {
		if agent.ID == excludeID {
			continue
		}
		if agent.Status != types.AgentOnline || agent.Load >= agent.Capacity || !agent.HasSkill(skill) {
			continue
		}
		if best == nil || agent.Load < best.Load || (agent.Load == best.Load && agent.ID < best.ID) {
			best = agent
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// HasEligible reports whether any agent could take a call with the
// given skill requirement right now. Used as the queue's dequeue
// predicate.
func (p *Pool) HasEligible(skill string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, agent := range p.agents {
		if agent.Status == types.AgentOnline && agent.Load < agent.Capacity && agent.HasSkill(skill) {
			return true
		}
	}
	return false
}

// Get returns a copy of the agent.
func (p *Pool) Get(agentID string) (types.Agent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	agent, ok := p.agents[agentID]
	if !ok {
		return types.Agent{}, false
	}
	return *agent, true
}

// GetAll returns copies of all agents sorted by id.
func (p *Pool) GetAll() []types.Agent {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]types.Agent, 0, len(p.agents))
	for _, agent := range p.agents {
		out = append(out, *agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered agents.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.agents)
}

// Resume seeds the pool from durable records after a restart. Load is
// reset to zero: reservations do not survive a restart.
func (p *Pool) Resume(agents []types.Agent) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	loaded := 0
	for _, a := range agents {
		if _, ok := p.agents[a.ID]; ok {
			continue
		}
		a.Load = 0
		if a.Capacity < 1 {
			a.Capacity = 1
		}
		agent := a
		p.agents[a.ID] = &agent
		loaded++
	}
	if loaded > 0 {
		p.logger.Info().Int("agents", loaded).Msg("resumed agents from durable store")
	}
	return loaded
}
