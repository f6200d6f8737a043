package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// ErrInvalidTransition is returned when a requested state change is not
// allowed from the session's current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// transitions is the full set of legal state changes. Terminal states
// have no outgoing edges; repeated completion or abandonment attempts
// fail rather than firing duplicate events.
var transitions = map[types.SessionState][]types.SessionState{
	types.StateDialing: {
		types.StateConnectedAI,
		types.StateConnectedHuman,
		types.StateAbandoned,
		types.StateCompleted,
	},
	types.StateQueued: {
		types.StateConnectedHuman,
		types.StateAbandoned,
		types.StateCompleted,
	},
	types.StateConnectedAI: {
		types.StateQueued,
		types.StateTransferring,
		types.StateConnectedHuman,
		types.StateCompleted,
	},
	types.StateConnectedHuman: {
		types.StateTransferring,
		types.StateCompleted,
	},
	types.StateTransferring: {
		types.StateConnectedHuman,
		types.StateConnectedAI,
		types.StateCompleted,
	},
}

func allowed(from, to types.SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine applies lifecycle transitions to sessions held in the store
// and publishes a state-change event for every applied transition.
type Machine struct {
	store    *store.SessionStore
	notifier *notify.Notifier
	logger   zerolog.Logger
}

// NewMachine creates a session state machine over the given store.
func NewMachine(st *store.SessionStore, n *notify.Notifier, logger zerolog.Logger) *Machine {
	return &Machine{store: st, notifier: n, logger: logger}
}

// Transition moves the session to the target state, applying the
// side effects that belong to the edge: mode follows connected states,
// transfer count follows entry into transferring, and terminal states
// set the end time and duration. mutate, if non-nil, runs inside the
// same exclusive scope after the state change is validated.
func (m *Machine) Transition(sessionID string, to types.SessionState, mutate func(*types.CallSession)) error {
	var from types.SessionState
	var completed types.CallSession

	err := m.store.Mutate(sessionID, func(s *types.CallSession) error {
		if !allowed(s.State, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
		}
		from = s.State
		s.State = to

		switch to {
		case types.StateConnectedAI:
			s.Mode = types.ModeAI
		case types.StateConnectedHuman:
			s.Mode = types.ModeHuman
		case types.StateTransferring:
			s.TransferCount++
		}

		if to.Terminal() {
			now := time.Now()
			s.EndTime = &now
			s.DurationSeconds = now.Sub(s.StartTime).Seconds()
		}
		if mutate != nil {
			mutate(s)
		}
		completed = *s
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("session_id", sessionID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("session state changed")

	m.notifier.Publish(types.Event{
		Type:      types.EventSessionStateChanged,
		SessionID: sessionID,
		From:      from,
		To:        to,
	})
	if to.Terminal() {
		m.notifier.Publish(types.Event{
			Type:            types.EventSessionCompleted,
			SessionID:       sessionID,
			To:              to,
			Reason:          completed.EndReason,
			DurationSeconds: completed.DurationSeconds,
			TransferCount:   completed.TransferCount,
			FinalSentiment:  completed.Sentiment,
		})
	}
	return nil
}

// Complete finalizes the session normally with the given end reason.
func (m *Machine) Complete(sessionID, reason string) error {
	return m.Transition(sessionID, types.StateCompleted, func(s *types.CallSession) {
		s.EndReason = reason
	})
}

// Abandon finalizes the session as abandoned, exactly once. Calls
// against sessions that are already terminal, or whose state does not
// permit abandonment, are silently dropped so the caller can report
// hangups without checking state first.
func (m *Machine) Abandon(sessionID, reason string) error {
	err := m.Transition(sessionID, types.StateAbandoned, func(s *types.CallSession) {
		s.EndReason = reason
	})
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}
