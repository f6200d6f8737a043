package assign

import (
	"sync"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/queue"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Assignment is one committed entry/agent pairing produced by a pass.
type Assignment struct {
	Entry   types.QueueEntry
	AgentID string
}

// OnAssign is invoked once per committed assignment, outside the pass
// lock, to connect the call to the reserved agent.
type OnAssign func(Assignment)

// Engine pairs waiting queue entries with eligible agents. Passes are
// serialized; the agent pool's Reserve is the only synchronization
// point with concurrent status changes, so a lost reservation race is
// handled by retrying the pass step, not by locking the pool.
type Engine struct {
	mu       sync.Mutex
	queue    *queue.Manager
	pool     *agentpool.Pool
	notifier *notify.Notifier
	onAssign OnAssign
	logger   zerolog.Logger
}

// NewEngine creates an assignment engine over the queue and agent pool.
func NewEngine(q *queue.Manager, p *agentpool.Pool, n *notify.Notifier, onAssign OnAssign, logger zerolog.Logger) *Engine {
	return &Engine{
		queue:    q,
		pool:     p,
		notifier: n,
		onAssign: onAssign,
		logger:   logger,
	}
}

// RunPass drains the queue head while eligible agents exist and
// returns the committed assignments. Entries popped but not assignable
// in this pass go back at their original position.
func (e *Engine) RunPass() []Assignment {
	e.mu.Lock()
	defer e.mu.Unlock()

	var assigned []Assignment
	var skipped []*types.QueueEntry

	for {
		entry := e.queue.DequeueNext(e.pool.HasEligible)
		if entry == nil {
			break
		}

		agentID, ok := e.reserve(entry.Skill)
		if !ok {
			// eligibility changed between the skill check and the
			// reservation; put the entry back and let the next pass
			// pick it up
			skipped = append(skipped, entry)
			continue
		}

		committed, ok := e.queue.MarkAssigned(entry.ID, agentID)
		if !ok {
			// the entry was removed while popped (hangup, sweep)
			e.pool.Release(agentID)
			continue
		}

		assigned = append(assigned, Assignment{Entry: committed, AgentID: agentID})

		e.logger.Info().
			Str("entry_id", committed.ID).
			Str("session_id", committed.SessionID).
			Str("agent_id", agentID).
			Int("priority", int(committed.Priority)).
			Msg("call assigned to agent")

		e.notifier.Publish(types.Event{
			Type:      types.EventQueueEntryAssigned,
			SessionID: committed.SessionID,
			EntryID:   committed.ID,
			AgentID:   agentID,
			Priority:  committed.Priority,
		})
	}

	for _, entry := range skipped {
		e.queue.Reenqueue(entry)
	}

	for _, a := range assigned {
		if e.onAssign != nil {
			e.onAssign(a)
		}
	}
	return assigned
}

// reserve finds the least-loaded eligible agent and reserves a slot.
// A single retry against the next candidate covers the race where the
// chosen agent went offline or filled up between selection and
// reservation.
func (e *Engine) reserve(skill string) (string, bool) {
	agentID, found := e.pool.FindCandidate(skill)
	if !found {
		return "", false
	}
	if e.pool.Reserve(agentID, skill) {
		return agentID, true
	}

	next, found := e.pool.FindCandidateExcluding(skill, agentID)
	if !found {
		return "", false
	}
	if e.pool.Reserve(next, skill) {
		return next, true
	}
	return "", false
}
