package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDuplicateEntry is returned when a session already has a live queue entry
var ErrDuplicateEntry = errors.New("session already has a live queue entry")

// SkillMatcher reports whether any agent satisfying the skill
// requirement could take a call right now.
type SkillMatcher func(skill string) bool

// Manager maintains the ordered set of waiting calls. All operations
// are atomic with respect to each other; in particular no two
// concurrent DequeueNext calls can be handed the same entry.
//
// Ordering is total: priority descending, enqueue time ascending,
// entry id ascending.
type Manager struct {
	mu        sync.Mutex
	waiting   []*types.QueueEntry
	entries   map[string]*types.QueueEntry // all live entries (waiting + assigned)
	bySession map[string]string            // sessionID -> live entry id
	est       *WaitEstimator
	sl        *SLTracker
	abandoned int
	logger    zerolog.Logger
}

// NewManager creates an empty queue manager.
func NewManager(est *WaitEstimator, sl *SLTracker, logger zerolog.Logger) *Manager {
	return &Manager{
		entries:   make(map[string]*types.QueueEntry),
		bySession: make(map[string]string),
		est:       est,
		sl:        sl,
		logger:    logger,
	}
}

// Enqueue inserts a new waiting entry for the session. Fails with
// ErrDuplicateEntry if the session already has a live entry.
func (m *Manager) Enqueue(sessionID string, priority types.Priority, skill string) (types.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bySession[sessionID]; ok {
		return types.QueueEntry{}, ErrDuplicateEntry
	}

	entry := &types.QueueEntry{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Priority:   priority,
		Skill:      skill,
		Status:     types.EntryWaiting,
		EnqueuedAt: time.Now(),
	}
	m.entries[entry.ID] = entry
	m.bySession[sessionID] = entry.ID
	m.insert(entry)

	m.logger.Debug().
		Str("entry_id", entry.ID).
		Str("session_id", sessionID).
		Int("priority", int(priority)).
		Str("skill", skill).
		Int("queue_depth", len(m.waiting)).
		Msg("call enqueued")

	return *entry, nil
}

// DequeueNext removes and returns the best waiting entry whose skill
// requirement is satisfied by match, or nil if none qualifies. The
// entry stays live (for MarkAssigned or Reenqueue) but can no longer
// be returned to another caller.
func (m *Manager) DequeueNext(match SkillMatcher) *types.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, entry := range m.waiting {
		if match != nil && !match(entry.Skill) {
			continue
		}
		m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
		out := *entry
		return &out
	}
	return nil
}

// Reenqueue restores a dequeued entry at its original priority and
// enqueue timestamp. Used when a reservation race was lost; the entry
// is not penalized.
func (m *Manager) Reenqueue(entry *types.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, ok := m.entries[entry.ID]
	if !ok || live.Status != types.EntryWaiting {
		// removed or assigned while popped
		return
	}
	m.insert(live)
}

// MarkAssigned commits a dequeued entry to an agent and records the
// wait duration for the ETA estimator and service-level tracker.
func (m *Manager) MarkAssigned(entryID, agentID string) (types.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[entryID]
	if !ok || entry.Status != types.EntryWaiting {
		return types.QueueEntry{}, false
	}

	now := time.Now()
	entry.Status = types.EntryAssigned
	entry.AssignedAgentID = agentID
	entry.AssignedAt = &now

	wait := now.Sub(entry.EnqueuedAt)
	m.est.Record(wait)
	m.sl.RecordAnswer(wait)

	m.logger.Debug().
		Str("entry_id", entryID).
		Str("agent_id", agentID).
		Dur("wait", wait).
		Msg("queue entry assigned")

	return *entry, true
}

// BumpPriority raises an entry's priority. No-op if the entry is no
// longer waiting.
func (m *Manager) BumpPriority(entryID string, priority types.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[entryID]
	if !ok || entry.Status != types.EntryWaiting {
		return
	}
	if priority <= entry.Priority {
		return
	}
	entry.Priority = priority
	// Re-sort in place; the entry may or may not currently be in the
	// waiting slice (it could be popped by a concurrent pass).
	sort.SliceStable(m.waiting, func(i, j int) bool { return less(m.waiting[i], m.waiting[j]) })

	m.logger.Debug().
		Str("entry_id", entryID).
		Int("priority", int(priority)).
		Msg("queue entry priority bumped")
}

// Remove deletes an entry (abandonment or out-of-band resolution).
// Idempotent: removing an unknown id is a no-op.
func (m *Manager) Remove(entryID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[entryID]
	if !ok {
		return false
	}
	delete(m.entries, entryID)
	delete(m.bySession, entry.SessionID)
	for i, e := range m.waiting {
		if e.ID == entryID {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			break
		}
	}
	if entry.Status == types.EntryWaiting {
		m.abandoned++
	}
	return true
}

// EntryByID returns a live entry by its id.
func (m *Manager) EntryByID(entryID string) (types.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[entryID]
	if !ok {
		return types.QueueEntry{}, false
	}
	return *entry, true
}

// EntryForSession returns the session's live entry, if any.
func (m *Manager) EntryForSession(sessionID string) (types.QueueEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.bySession[sessionID]
	if !ok {
		return types.QueueEntry{}, false
	}
	return *m.entries[id], true
}

// PositionAndETA returns the entry's rank (count of waiting entries
// strictly ahead) and the estimated wait, monotonically non-decreasing
// in rank. ok is false when the entry is not waiting.
func (m *Manager) PositionAndETA(entryID string) (rank int, eta time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.entries[entryID]
	if !found || entry.Status != types.EntryWaiting {
		return 0, 0, false
	}
	for _, e := range m.waiting {
		if e.ID != entry.ID && less(e, entry) {
			rank++
		}
	}
	return rank, m.est.Estimate(rank), true
}

// WaitingOver returns the entries that have been waiting longer than
// max, for the abandonment sweep.
func (m *Manager) WaitingOver(max time.Duration) []types.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-max)
	var out []types.QueueEntry
	for _, e := range m.waiting {
		if e.EnqueuedAt.Before(cutoff) {
			out = append(out, *e)
		}
	}
	return out
}

// Stats returns a snapshot of the live queue.
func (m *Manager) Stats() types.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	assigned := 0
	for _, e := range m.entries {
		if e.Status == types.EntryAssigned {
			assigned++
		}
	}

	stats := types.QueueStats{
		WaitingCount:   len(m.waiting),
		AssignedCount:  assigned,
		AbandonedCount: m.abandoned,
		AvgWaitSecs:    m.est.Average().Seconds(),
		AnsweredInSL:   m.sl.AnsweredInSL,
		TotalAnswered:  m.sl.TotalAnswered,
		CurrentSL:      m.sl.CurrentSL(),
	}
	if len(m.waiting) > 0 {
		oldest := m.waiting[0]
		for _, e := range m.waiting[1:] {
			if e.EnqueuedAt.Before(oldest.EnqueuedAt) {
				oldest = e
			}
		}
		stats.LongestWaitSecs = time.Since(oldest.EnqueuedAt).Seconds()
	}
	return stats
}

// Resume seeds the queue from durable waiting entries after a
// restart, preserving ids and enqueue timestamps. Sessions that
// already have a live entry are skipped.
func (m *Manager) Resume(entries []types.QueueEntry) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded := 0
	for i := range entries {
		e := entries[i]
		if e.Status != types.EntryWaiting {
			continue
		}
		if _, ok := m.bySession[e.SessionID]; ok {
			continue
		}
		entry := &e
		m.entries[entry.ID] = entry
		m.bySession[entry.SessionID] = entry.ID
		m.insert(entry)
		loaded++
	}
	if loaded > 0 {
		m.logger.Info().Int("entries", loaded).Msg("resumed queue entries from durable store")
	}
	return loaded
}

// insert places the entry into the waiting slice at its ordered position.
func (m *Manager) insert(entry *types.QueueEntry) {
	i := sort.Search(len(m.waiting), func(i int) bool { return less(entry, m.waiting[i]) })
	m.waiting = append(m.waiting, nil)
	copy(m.waiting[i+1:], m.waiting[i:])
	m.waiting[i] = entry
}

// less is the total queue order: priority descending, enqueue time
// ascending, entry id ascending.
func less(a, b *types.QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.ID < b.ID
}
