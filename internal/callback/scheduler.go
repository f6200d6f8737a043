package callback

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCallbackNotFound is returned for operations on unknown callbacks
var ErrCallbackNotFound = errors.New("callback not found")

// Scheduler holds scheduled customer callbacks. Due callbacks are
// picked up by the engine's sweep, which dials a fresh outbound
// session; the scheduler itself never places calls.
type Scheduler struct {
	mu        sync.Mutex
	callbacks map[string]*types.Callback
	logger    zerolog.Logger
}

// NewScheduler creates an empty callback scheduler.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		callbacks: make(map[string]*types.Callback),
		logger:    logger,
	}
}

// Schedule registers a callback for the customer at the given time.
func (s *Scheduler) Schedule(customerID, phoneNumber string, at time.Time, reason string) types.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb := &types.Callback{
		ID:          uuid.New().String(),
		CustomerID:  customerID,
		PhoneNumber: phoneNumber,
		ScheduledAt: at,
		Reason:      reason,
		Status:      types.CallbackScheduled,
		CreatedAt:   time.Now(),
	}
	s.callbacks[cb.ID] = cb

	s.logger.Info().
		Str("callback_id", cb.ID).
		Str("customer_id", customerID).
		Time("scheduled_at", at).
		Msg("callback scheduled")
	return *cb
}

// Cancel marks a scheduled callback cancelled. Fails on unknown ids;
// cancelling a non-scheduled callback is a no-op.
func (s *Scheduler) Cancel(callbackID string) error {
	return s.setStatus(callbackID, types.CallbackCancelled)
}

// Complete marks a callback completed once its outbound call was
// placed.
func (s *Scheduler) Complete(callbackID string) error {
	return s.setStatus(callbackID, types.CallbackCompleted)
}

func (s *Scheduler) setStatus(callbackID string, status types.CallbackStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.callbacks[callbackID]
	if !ok {
		return ErrCallbackNotFound
	}
	if cb.Status != types.CallbackScheduled {
		return nil
	}
	cb.Status = status
	return nil
}

// Get returns a callback by id.
func (s *Scheduler) Get(callbackID string) (types.Callback, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.callbacks[callbackID]
	if !ok {
		return types.Callback{}, false
	}
	return *cb, true
}

// Due returns the scheduled callbacks whose time has arrived, oldest
// first. The callbacks stay scheduled until Complete or Cancel.
func (s *Scheduler) Due(now time.Time) []types.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Callback
	for _, cb := range s.callbacks {
		if cb.Status == types.CallbackScheduled && !cb.ScheduledAt.After(now) {
			out = append(out, *cb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// ForCustomer returns all callbacks for a customer, newest first.
func (s *Scheduler) ForCustomer(customerID string) []types.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Callback
	for _, cb := range s.callbacks {
		if cb.CustomerID == customerID {
			out = append(out, *cb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Resume seeds the scheduler from durable records after a restart.
func (s *Scheduler) Resume(callbacks []types.Callback) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for i := range callbacks {
		cb := callbacks[i]
		if _, ok := s.callbacks[cb.ID]; ok {
			continue
		}
		s.callbacks[cb.ID] = &cb
		loaded++
	}
	if loaded > 0 {
		s.logger.Info().Int("callbacks", loaded).Msg("resumed callbacks from durable store")
	}
	return loaded
}
