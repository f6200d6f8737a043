package transfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/telephony"
	"github.com/agnox/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNoTargetAgent is returned when no agent can take the transfer
	ErrNoTargetAgent = errors.New("no eligible target agent for transfer")
	// ErrTransferInFlight is returned when the session already has a pending transfer
	ErrTransferInFlight = errors.New("session already has a transfer in flight")
	// ErrNoPendingTransfer is returned when completing or failing a session with no transfer in flight
	ErrNoPendingTransfer = errors.New("session has no pending transfer")
)

// pendingTransfer is the in-flight bookkeeping for one transfer. The
// prior state and agent are what rollback restores.
type pendingTransfer struct {
	transfer      types.TransferRequest
	priorState    types.SessionState
	priorMode     types.HandlingMode
	sourceAgentID string
	explicit      bool
	retried       bool
	deadline      time.Time
}

// Coordinator executes warm and cold transfers between handling
// parties. A transfer that cannot complete rolls the session back to
// its pre-transfer state with the transfer count unchanged; a timed-out
// attempt gets one automatic retry against a different agent before it
// is failed.
type Coordinator struct {
	mu       sync.Mutex
	pending  map[string]*pendingTransfer // sessionID -> in-flight transfer
	store    *store.SessionStore
	machine  *session.Machine
	pool     *agentpool.Pool
	notifier *notify.Notifier
	dialer   telephony.Dialer
	conv     telephony.Conversation
	durable  storage.Store
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCoordinator creates a transfer coordinator.
func NewCoordinator(st *store.SessionStore, m *session.Machine, p *agentpool.Pool, n *notify.Notifier, d telephony.Dialer, c telephony.Conversation, durable storage.Store, timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		pending:  make(map[string]*pendingTransfer),
		store:    st,
		machine:  m,
		pool:     p,
		notifier: n,
		dialer:   d,
		conv:     c,
		durable:  durable,
		timeout:  timeout,
		logger:   logger,
	}
}

// Request starts a transfer of the session to targetAgentID, or to the
// best available agent when targetAgentID is empty. The session moves
// to transferring; completion or failure is reported through Complete,
// the timeout sweep, or CancelFor.
func (c *Coordinator) Request(ctx context.Context, sessionID, targetAgentID string, kind types.TransferKind, reason string) (types.TransferRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[sessionID]; ok {
		return types.TransferRequest{}, ErrTransferInFlight
	}

	sess, ok := c.store.Get(sessionID)
	if !ok {
		return types.TransferRequest{}, store.ErrSessionNotFound
	}

	explicit := targetAgentID != ""
	target := targetAgentID
	if !explicit {
		cand, found := c.pool.FindCandidateExcluding("", sess.AgentID)
		if !found {
			return types.TransferRequest{}, ErrNoTargetAgent
		}
		target = cand
	}
	if !c.pool.Reserve(target, "") {
		if explicit {
			return types.TransferRequest{}, ErrNoTargetAgent
		}
		cand, found := c.pool.FindCandidateExcluding("", target)
		if !found || !c.pool.Reserve(cand, "") {
			return types.TransferRequest{}, ErrNoTargetAgent
		}
		target = cand
	}

	tr := types.TransferRequest{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		SourceMode:    sess.Mode,
		SourceAgentID: sess.AgentID,
		TargetAgentID: target,
		Kind:          kind,
		Reason:        reason,
		Outcome:       types.TransferPending,
		CreatedAt:     time.Now(),
	}

	if err := c.machine.Transition(sessionID, types.StateTransferring, nil); err != nil {
		c.pool.Release(target)
		return types.TransferRequest{}, err
	}
	if err := c.store.AddTransfer(tr); err != nil {
		c.pool.Release(target)
		return types.TransferRequest{}, err
	}
	if err := c.durable.SaveTransfer(tr); err != nil {
		c.logger.Error().Err(err).Str("transfer_id", tr.ID).Msg("failed to persist transfer")
	}

	c.pending[sessionID] = &pendingTransfer{
		transfer:      tr,
		priorState:    sess.State,
		priorMode:     sess.Mode,
		sourceAgentID: sess.AgentID,
		explicit:      explicit,
		deadline:      time.Now().Add(c.timeout),
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Str("transfer_id", tr.ID).
		Str("target_agent_id", target).
		Str("kind", string(kind)).
		Str("reason", reason).
		Msg("transfer requested")

	c.notifier.Publish(types.Event{
		Type:       types.EventTransferRequested,
		SessionID:  sessionID,
		TransferID: tr.ID,
		AgentID:    target,
		Kind:       kind,
		Reason:     reason,
	})

	c.beginBridge(ctx, sess, tr)
	return tr, nil
}

// beginBridge performs the leg work for the transfer kind. Cold drops
// the source before the target joins; warm keeps the source connected
// until Complete confirms the target.
func (c *Coordinator) beginBridge(ctx context.Context, sess types.CallSession, tr types.TransferRequest) {
	if tr.Kind == types.TransferCold {
		c.dropSource(ctx, sess)
	}
	if err := c.dialer.Bridge(ctx, sess.RoomName, tr.TargetAgentID); err != nil {
		c.logger.Warn().Err(err).
			Str("session_id", sess.ID).
			Str("target_agent_id", tr.TargetAgentID).
			Msg("bridge to target agent failed")
	}
}

// dropSource disconnects whichever party was handling the call.
func (c *Coordinator) dropSource(ctx context.Context, sess types.CallSession) {
	if sess.Mode == types.ModeAI {
		if err := c.conv.Stop(ctx, sess.RoomName); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to stop ai conversation")
		}
		return
	}
	if sess.AgentID != "" {
		if err := c.dialer.Hangup(ctx, sess.RoomName, sess.AgentID); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to drop source agent")
		}
	}
}

// Complete finalizes the session's pending transfer after the target
// agent joined the call. The source party is released; for a warm
// transfer this is the moment the source drops off.
func (c *Coordinator) Complete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNoPendingTransfer
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	err := c.machine.Transition(sessionID, types.StateConnectedHuman, func(s *types.CallSession) {
		s.AgentID = p.transfer.TargetAgentID
	})
	if err != nil {
		// the session went terminal between the pop above and the
		// transition; the entry is no longer visible to CancelFor, so
		// the target slot and the pending record are settled here
		c.pool.Release(p.transfer.TargetAgentID)
		c.resolve(p.transfer, types.TransferFailed, "session_ended")
		return err
	}

	if p.transfer.Kind == types.TransferWarm {
		sess, ok := c.store.Get(sessionID)
		if ok {
			prior := sess
			prior.Mode = p.priorMode
			prior.AgentID = p.sourceAgentID
			c.dropSource(ctx, prior)
		}
	}
	if p.priorMode == types.ModeHuman && p.sourceAgentID != "" {
		c.pool.Release(p.sourceAgentID)
	}

	c.resolve(p.transfer, types.TransferSucceeded, "")
	return nil
}

// Fail rolls back the session's pending transfer: the session returns
// to its pre-transfer state and agent, the transfer count is restored,
// and the target reservation is released.
func (c *Coordinator) Fail(sessionID, reason string) error {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNoPendingTransfer
	}
	delete(c.pending, sessionID)
	c.mu.Unlock()

	c.rollback(p, reason)
	return nil
}

func (c *Coordinator) rollback(p *pendingTransfer, reason string) {
	err := c.machine.Transition(p.transfer.SessionID, p.priorState, func(s *types.CallSession) {
		s.Mode = p.priorMode
		s.AgentID = p.sourceAgentID
		s.TransferCount--
	})
	if err != nil {
		c.logger.Error().Err(err).
			Str("session_id", p.transfer.SessionID).
			Str("prior_state", string(p.priorState)).
			Msg("failed to roll back session after failed transfer")
	}
	c.pool.Release(p.transfer.TargetAgentID)
	c.resolve(p.transfer, types.TransferFailed, reason)
}

// CancelFor drops the session's pending transfer without touching
// session state. Called when the session ends while transferring.
func (c *Coordinator) CancelFor(sessionID, reason string) {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if ok {
		delete(c.pending, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.pool.Release(p.transfer.TargetAgentID)
	c.resolve(p.transfer, types.TransferFailed, reason)
}

// HasPending reports whether the session has a transfer in flight.
func (c *Coordinator) HasPending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[sessionID]
	return ok
}

// ExpirePending fails transfers whose deadline passed. Each transfer
// gets one automatic retry against a different agent before failing
// for good; explicitly targeted transfers are not retried elsewhere.
func (c *Coordinator) ExpirePending(ctx context.Context, now time.Time) {
	c.mu.Lock()
	var expired, retry []*pendingTransfer
	for sessionID, p := range c.pending {
		if !now.After(p.deadline) {
			continue
		}
		if !p.explicit && !p.retried {
			retry = append(retry, p)
			continue
		}
		delete(c.pending, sessionID)
		expired = append(expired, p)
	}
	for _, p := range retry {
		next, found := c.pool.FindCandidateExcluding("", p.transfer.TargetAgentID)
		if !found || !c.pool.Reserve(next, "") {
			delete(c.pending, p.transfer.SessionID)
			expired = append(expired, p)
			continue
		}
		c.pool.Release(p.transfer.TargetAgentID)
		p.transfer.TargetAgentID = next
		p.retried = true
		p.deadline = now.Add(c.timeout)

		c.logger.Info().
			Str("session_id", p.transfer.SessionID).
			Str("transfer_id", p.transfer.ID).
			Str("target_agent_id", next).
			Msg("retrying timed-out transfer with another agent")

		sess, ok := c.store.Get(p.transfer.SessionID)
		if ok {
			c.beginBridge(ctx, sess, p.transfer)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		c.logger.Warn().
			Str("session_id", p.transfer.SessionID).
			Str("transfer_id", p.transfer.ID).
			Msg("transfer timed out")
		c.rollback(p, "timeout")
	}
}

// resolve finalizes the durable transfer record and publishes the
// outcome.
func (c *Coordinator) resolve(tr types.TransferRequest, outcome types.TransferOutcome, reason string) {
	now := time.Now()
	err := c.store.ResolveTransfer(tr.SessionID, tr.ID, func(t *types.TransferRequest) {
		t.Outcome = outcome
		t.TargetAgentID = tr.TargetAgentID
		t.ResolvedAt = &now
	})
	if err != nil {
		c.logger.Error().Err(err).Str("transfer_id", tr.ID).Msg("failed to resolve transfer record")
	}

	resolved := tr
	resolved.Outcome = outcome
	resolved.ResolvedAt = &now
	if err := c.durable.SaveTransfer(resolved); err != nil {
		c.logger.Error().Err(err).Str("transfer_id", tr.ID).Msg("failed to persist transfer")
	}

	c.logger.Info().
		Str("session_id", tr.SessionID).
		Str("transfer_id", tr.ID).
		Str("outcome", string(outcome)).
		Msg("transfer resolved")

	c.notifier.Publish(types.Event{
		Type:       types.EventTransferResolved,
		SessionID:  tr.SessionID,
		TransferID: tr.ID,
		AgentID:    tr.TargetAgentID,
		Kind:       tr.Kind,
		Outcome:    outcome,
		Reason:     reason,
	})
}
