package engine

import (
	"context"
	"errors"
	"time"

	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/types"
)

// runSweep periodically enforces the time-based policies: queued calls
// past the maximum wait are abandoned, stuck transfers are expired,
// and due callbacks are dialed.
func (s *Service) runSweep(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("sweep loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweep loop stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	s.sweepAbandoned(ctx)
	s.transfers.ExpirePending(ctx, time.Now())
	s.sweepCallbacks(ctx)
}

// sweepAbandoned abandons sessions whose queue wait exceeded the
// configured maximum. The abandonment only applies while the session is
// still queued; one that an assignment pass or hangup caught first is
// left to that path.
func (s *Service) sweepAbandoned(ctx context.Context) {
	for _, entry := range s.queue.WaitingOver(s.cfg.MaxQueueWait) {
		err := s.machine.Transition(entry.SessionID, types.StateAbandoned, func(cs *types.CallSession) {
			cs.EndReason = "max_wait_exceeded"
		})
		if errors.Is(err, session.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).
				Str("session_id", entry.SessionID).
				Msg("failed to abandon over-waited session")
			continue
		}

		s.logger.Warn().
			Str("entry_id", entry.ID).
			Str("session_id", entry.SessionID).
			Dur("waited", time.Since(entry.EnqueuedAt)).
			Msg("queue wait exceeded maximum, abandoned")

		s.queue.Remove(entry.ID)
		entry.Status = types.EntryRemoved
		if err := s.durable.SaveQueueEntry(entry); err != nil {
			s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to persist queue entry")
		}
		if sess, ok := s.sessions.Get(entry.SessionID); ok && sess.Mode == types.ModeAI {
			if err := s.conv.Stop(ctx, sess.RoomName); err != nil {
				s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to stop ai conversation")
			}
		}
		s.monitor.Close(entry.SessionID)
		s.persistSession(entry.SessionID)
	}
}

// sweepCallbacks dials callbacks whose scheduled time arrived. Each is
// completed before dialing so a slow dial never places it twice.
func (s *Service) sweepCallbacks(ctx context.Context) {
	for _, cb := range s.callbacks.Due(time.Now()) {
		if err := s.callbacks.Complete(cb.ID); err != nil {
			continue
		}
		cb.Status = types.CallbackCompleted
		if err := s.durable.SaveCallback(cb); err != nil {
			s.logger.Error().Err(err).Str("callback_id", cb.ID).Msg("failed to persist callback")
		}

		s.logger.Info().
			Str("callback_id", cb.ID).
			Str("customer_id", cb.CustomerID).
			Msg("placing scheduled callback")

		if _, err := s.StartOutbound(ctx, cb.PhoneNumber); err != nil {
			s.logger.Error().Err(err).
				Str("callback_id", cb.ID).
				Str("phone", cb.PhoneNumber).
				Msg("failed to place callback")
		}
	}
}
