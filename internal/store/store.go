package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionExists is returned when creating a session whose id is already live
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned for lookups and mutations of unknown sessions
	ErrSessionNotFound = errors.New("session not found")
)

// SessionStore is the authoritative in-memory state for all call
// sessions. It exclusively owns CallSession lifetimes; all mutation
// goes through Mutate so each session has a single exclusive scope.
// Different sessions never block each other.
type SessionStore struct {
	mu     sync.RWMutex
	slots  map[string]*slot
	logger zerolog.Logger
}

type slot struct {
	mu         sync.Mutex
	session    types.CallSession
	transcript []types.TranscriptEvent
	transfers  []types.TransferRequest
}

// NewSessionStore creates an empty session store
func NewSessionStore(logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		slots:  make(map[string]*slot),
		logger: logger,
	}
}

// Create registers a new session. Fails if the id is already present.
func (st *SessionStore) Create(s types.CallSession) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.slots[s.ID]; ok {
		return ErrSessionExists
	}
	st.slots[s.ID] = &slot{session: s}

	st.logger.Debug().
		Str("session_id", s.ID).
		Str("direction", string(s.Direction)).
		Str("state", string(s.State)).
		Msg("session created")
	return nil
}

// Get returns a copy of the session, if present.
func (st *SessionStore) Get(id string) (types.CallSession, bool) {
	sl := st.slot(id)
	if sl == nil {
		return types.CallSession{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.session, true
}

// Mutate runs fn under the session's exclusive lock. If fn returns an
// error the mutation is discarded.
func (st *SessionStore) Mutate(id string, fn func(*types.CallSession) error) error {
	sl := st.slot(id)
	if sl == nil {
		return ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	working := sl.session
	if err := fn(&working); err != nil {
		return err
	}
	sl.session = working
	return nil
}

// AppendTranscript appends one utterance to the session's transcript.
func (st *SessionStore) AppendTranscript(ev types.TranscriptEvent) error {
	sl := st.slot(ev.SessionID)
	if sl == nil {
		return ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.transcript = append(sl.transcript, ev)
	return nil
}

// Transcript returns the session's transcript in arrival order.
func (st *SessionStore) Transcript(id string) ([]types.TranscriptEvent, error) {
	sl := st.slot(id)
	if sl == nil {
		return nil, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]types.TranscriptEvent, len(sl.transcript))
	copy(out, sl.transcript)
	return out, nil
}

// AddTransfer records a transfer request against its parent session.
func (st *SessionStore) AddTransfer(tr types.TransferRequest) error {
	sl := st.slot(tr.SessionID)
	if sl == nil {
		return ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.transfers = append(sl.transfers, tr)
	return nil
}

// ResolveTransfer applies fn to the identified transfer request.
// No-op if the transfer is already terminal.
func (st *SessionStore) ResolveTransfer(sessionID, transferID string, fn func(*types.TransferRequest)) error {
	sl := st.slot(sessionID)
	if sl == nil {
		return ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	for i := range sl.transfers {
		if sl.transfers[i].ID == transferID {
			if sl.transfers[i].Outcome != types.TransferPending {
				return nil
			}
			fn(&sl.transfers[i])
			return nil
		}
	}
	return ErrSessionNotFound
}

// Transfers returns all transfer requests for a session.
func (st *SessionStore) Transfers(id string) ([]types.TransferRequest, error) {
	sl := st.slot(id)
	if sl == nil {
		return nil, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]types.TransferRequest, len(sl.transfers))
	copy(out, sl.transfers)
	return out, nil
}

// Active returns copies of all non-terminal sessions, sorted by start
// time for stable iteration.
func (st *SessionStore) Active() []types.CallSession {
	st.mu.RLock()
	slots := make([]*slot, 0, len(st.slots))
	for _, sl := range st.slots {
		slots = append(slots, sl)
	}
	st.mu.RUnlock()

	out := make([]types.CallSession, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if !sl.session.State.Terminal() {
			out = append(out, sl.session)
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Count returns the number of tracked sessions, live and historical.
func (st *SessionStore) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.slots)
}

// Resume seeds the store from durable records after a restart.
// Existing entries are not overwritten.
func (st *SessionStore) Resume(sessions []types.CallSession) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	loaded := 0
	for _, s := range sessions {
		if _, ok := st.slots[s.ID]; ok {
			continue
		}
		st.slots[s.ID] = &slot{session: s}
		loaded++
	}
	if loaded > 0 {
		st.logger.Info().Int("sessions", loaded).Msg("resumed sessions from durable store")
	}
	return loaded
}

func (st *SessionStore) slot(id string) *slot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.slots[id]
}
