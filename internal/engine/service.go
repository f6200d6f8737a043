package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/assign"
	"github.com/agnox/callcore/internal/callback"
	"github.com/agnox/callcore/internal/config"
	"github.com/agnox/callcore/internal/customer"
	"github.com/agnox/callcore/internal/metrics"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/queue"
	"github.com/agnox/callcore/internal/sentiment"
	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/telephony"
	"github.com/agnox/callcore/internal/transfer"
	"github.com/agnox/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AgentSender pushes messages to connected agents over WebSocket.
type AgentSender interface {
	SendToAgent(agentID string, message []byte) bool
}

// Service is the call engine: it receives telephony and AI events,
// drives sessions through their lifecycle, and joins the queue, agent
// pool, transfer, and sentiment components.
type Service struct {
	cfg       *config.Config
	sessions  *store.SessionStore
	queue     *queue.Manager
	pool      *agentpool.Pool
	machine   *session.Machine
	engine    *assign.Engine
	loop      *assign.Loop
	transfers *transfer.Coordinator
	monitor   *sentiment.Monitor
	customers *customer.Registry
	callbacks *callback.Scheduler
	notifier  *notify.Notifier
	dialer    telephony.Dialer
	conv      telephony.Conversation
	durable   storage.Store
	sender    AgentSender
	logger    zerolog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Config    *config.Config
	Sessions  *store.SessionStore
	Queue     *queue.Manager
	Pool      *agentpool.Pool
	Customers *customer.Registry
	Callbacks *callback.Scheduler
	Notifier  *notify.Notifier
	Dialer    telephony.Dialer
	Conv      telephony.Conversation
	Durable   storage.Store
	Sender    AgentSender
	Logger    zerolog.Logger
}

// NewService wires the engine together.
func NewService(d Deps) *Service {
	s := &Service{
		cfg:       d.Config,
		sessions:  d.Sessions,
		queue:     d.Queue,
		pool:      d.Pool,
		customers: d.Customers,
		callbacks: d.Callbacks,
		notifier:  d.Notifier,
		dialer:    d.Dialer,
		conv:      d.Conv,
		durable:   d.Durable,
		sender:    d.Sender,
		logger:    d.Logger,
	}

	s.machine = session.NewMachine(d.Sessions, d.Notifier, d.Logger)
	s.engine = assign.NewEngine(d.Queue, d.Pool, d.Notifier, s.onAssign, d.Logger)
	s.loop = assign.NewLoop(s.engine, d.Config.RoutingInterval, d.Logger)
	s.transfers = transfer.NewCoordinator(d.Sessions, s.machine, d.Pool, d.Notifier,
		d.Dialer, d.Conv, d.Durable, d.Config.TransferTimeout, d.Logger)
	s.monitor = sentiment.NewMonitor(s, s.sessionState,
		d.Config.SentimentWindow, d.Config.NegativeThreshold, d.Config.EscalationCooldown, d.Logger)
	return s
}

// SetSender attaches the agent message channel. Called once during
// startup, before Start; the hub needs the engine's routing kick and
// the engine needs the hub's send path.
func (s *Service) SetSender(sender AgentSender) { s.sender = sender }

// Machine exposes the session state machine for HTTP handlers.
func (s *Service) Machine() *session.Machine { return s.machine }

// Transfers exposes the transfer coordinator for HTTP handlers.
func (s *Service) Transfers() *transfer.Coordinator { return s.transfers }

// KickRouting requests an immediate assignment pass.
func (s *Service) KickRouting() { s.loop.Kick() }

// Start runs the routing loop and sweep until the context is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.loop.Start(ctx)
	go s.runSweep(ctx)
}

// Resume reloads durable state after a restart: known customers and
// callbacks, agent roster (with load reset to zero, reservations do
// not survive a crash), and waiting queue entries.
func (s *Service) Resume(ctx context.Context) error {
	customers, err := s.durable.LoadCustomers()
	if err != nil {
		return fmt.Errorf("resume customers: %w", err)
	}
	s.customers.Resume(customers)

	agents, err := s.durable.LoadAgents()
	if err != nil {
		return fmt.Errorf("resume agents: %w", err)
	}
	s.pool.Resume(agents)

	entries, err := s.durable.LoadWaitingEntries()
	if err != nil {
		return fmt.Errorf("resume queue entries: %w", err)
	}
	s.queue.Resume(entries)

	callbacks, err := s.durable.LoadCallbacks()
	if err != nil {
		return fmt.Errorf("resume callbacks: %w", err)
	}
	s.callbacks.Resume(callbacks)
	return nil
}

// OnCallArrived handles a new call from the telephony layer. Inbound
// calls are answered by the AI agent immediately; outbound calls start
// in dialing until the dial outcome is known.
func (s *Service) OnCallArrived(ctx context.Context, direction types.Direction, phoneNumber, roomName string, metadata map[string]string) (types.CallSession, error) {
	cust, _ := s.customers.GetOrCreate(phoneNumber)
	for k, v := range metadata {
		if err := s.customers.SetMetadata(cust.ID, k, v); err != nil {
			s.logger.Warn().Err(err).Str("customer_id", cust.ID).Msg("failed to set customer metadata")
		}
	}
	if err := s.customers.RecordCall(cust.ID); err != nil {
		s.logger.Warn().Err(err).Str("customer_id", cust.ID).Msg("failed to record customer call")
	}
	s.persistCustomer(cust.ID)

	state := types.StateDialing
	if direction == types.DirectionInbound {
		state = types.StateConnectedAI
	}

	sess := types.CallSession{
		ID:          uuid.New().String(),
		Direction:   direction,
		CustomerID:  cust.ID,
		RoomName:    roomName,
		PhoneNumber: phoneNumber,
		State:       state,
		Mode:        types.ModeAI,
		Sentiment:   types.SentimentNeutral,
		StartTime:   time.Now(),
	}
	if err := s.sessions.Create(sess); err != nil {
		return types.CallSession{}, err
	}
	metrics.Get().RecordSessionStarted()

	s.logger.Info().
		Str("session_id", sess.ID).
		Str("direction", string(direction)).
		Str("phone", phoneNumber).
		Str("room", roomName).
		Msg("call arrived")

	if direction == types.DirectionInbound {
		if err := s.conv.Start(ctx, roomName); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to start ai conversation")
		}
	}
	s.persistSession(sess.ID)
	return sess, nil
}

// StartOutbound dials the customer and creates the session tracking
// the dial attempt.
func (s *Service) StartOutbound(ctx context.Context, phoneNumber string) (types.CallSession, error) {
	roomName := "outbound-" + uuid.New().String()
	if _, err := s.dialer.Dial(ctx, roomName, phoneNumber); err != nil {
		return types.CallSession{}, fmt.Errorf("dial %s: %w", phoneNumber, err)
	}
	return s.OnCallArrived(ctx, types.DirectionOutbound, phoneNumber, roomName, nil)
}

// OnCallAnswered handles a successful outbound dial: the AI agent
// picks up the conversation.
func (s *Service) OnCallAnswered(ctx context.Context, sessionID string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return store.ErrSessionNotFound
	}
	if err := s.machine.Transition(sessionID, types.StateConnectedAI, nil); err != nil {
		return err
	}
	if err := s.conv.Start(ctx, sess.RoomName); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to start ai conversation")
	}
	s.persistSession(sessionID)
	return nil
}

// OnCallEnded finalizes a session on hangup, dial failure, or explicit
// close. Calls that never reached a conversation are abandoned; calls
// that were connected complete normally. Held reservations and queue
// entries are released.
func (s *Service) OnCallEnded(ctx context.Context, sessionID, reason string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return store.ErrSessionNotFound
	}
	if sess.State.Terminal() {
		return nil
	}

	s.transfers.CancelFor(sessionID, "session_ended")

	if entry, ok := s.queue.EntryForSession(sessionID); ok {
		s.queue.Remove(entry.ID)
		entry.Status = types.EntryRemoved
		if err := s.durable.SaveQueueEntry(entry); err != nil {
			s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to persist queue entry")
		}
	}
	if sess.Mode == types.ModeAI {
		if err := s.conv.Stop(ctx, sess.RoomName); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to stop ai conversation")
		}
	}
	s.monitor.Close(sessionID)

	// An assignment pass or transfer completion can commit between the
	// snapshot above and the terminal transition. Finalize against fresh
	// state and retry on a lost race, releasing an agent that was
	// connected in the meantime.
	for {
		cur, ok := s.sessions.Get(sessionID)
		if !ok {
			return store.ErrSessionNotFound
		}
		if cur.State.Terminal() {
			break
		}

		var err error
		switch cur.State {
		case types.StateDialing, types.StateQueued:
			err = s.machine.Transition(sessionID, types.StateAbandoned, func(cs *types.CallSession) {
				cs.EndReason = reason
			})
		default:
			err = s.machine.Complete(sessionID, reason)
		}
		if err == nil {
			if cur.Mode == types.ModeHuman && cur.AgentID != "" {
				s.pool.Release(cur.AgentID)
				s.persistAgent(cur.AgentID)
				s.notifyAgentRelease(cur.AgentID, sessionID, reason)
			}
			break
		}
		if !errors.Is(err, session.ErrInvalidTransition) {
			return err
		}
	}
	s.persistSession(sessionID)
	return nil
}

// OnTranscript ingests one utterance from the AI conversation layer.
// The session's running sentiment follows the customer's labels; the
// monitor sees every event in arrival order.
func (s *Service) OnTranscript(ev types.TranscriptEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := s.sessions.AppendTranscript(ev); err != nil {
		return err
	}
	if ev.Speaker == types.SpeakerCustomer && ev.Sentiment != "" {
		err := s.sessions.Mutate(ev.SessionID, func(cs *types.CallSession) error {
			cs.Sentiment = ev.Sentiment
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", ev.SessionID).Msg("failed to update session sentiment")
		}
	}
	if err := s.durable.AppendTranscript(types.NewTranscriptRecord(ev)); err != nil {
		s.logger.Error().Err(err).Str("session_id", ev.SessionID).Msg("failed to persist transcript")
	}
	s.monitor.Observe(ev)
	return nil
}

// OnHandoffRequested handles the AI signalling that a human should
// take over. With an eligible agent available the session transfers
// immediately; otherwise it queues for the next one.
func (s *Service) OnHandoffRequested(ctx context.Context, sessionID, reason string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return store.ErrSessionNotFound
	}
	if sess.State != types.StateConnectedAI {
		return fmt.Errorf("%w: handoff from %s", session.ErrInvalidTransition, sess.State)
	}

	if s.pool.HasEligible("") {
		_, err := s.transfers.Request(ctx, sessionID, "", types.TransferWarm, reason)
		if err == nil {
			s.persistSession(sessionID)
			return nil
		}
		if !errors.Is(err, transfer.ErrNoTargetAgent) {
			return err
		}
		// lost the agent between the check and the reservation, queue instead
	}

	if err := s.machine.Transition(sessionID, types.StateQueued, nil); err != nil {
		return err
	}
	entry, err := s.queue.Enqueue(sessionID, types.PriorityNormal, "")
	if err != nil {
		return err
	}

	s.notifier.Publish(types.Event{
		Type:      types.EventQueueEntryCreated,
		SessionID: sessionID,
		EntryID:   entry.ID,
		Priority:  entry.Priority,
		Reason:    reason,
	})
	s.persistSession(sessionID)
	s.persistQueueEntry(entry.ID)
	s.loop.Kick()
	return nil
}

// OnTransferAccepted confirms the target agent joined the call.
func (s *Service) OnTransferAccepted(ctx context.Context, sessionID string) error {
	if err := s.transfers.Complete(ctx, sessionID); err != nil {
		return err
	}
	s.persistSession(sessionID)
	return nil
}

// OnTransferRejected reports that the target agent declined.
func (s *Service) OnTransferRejected(sessionID, reason string) error {
	if err := s.transfers.Fail(sessionID, reason); err != nil {
		return err
	}
	s.persistSession(sessionID)
	return nil
}

// QueuePosition returns the session's current rank and wait estimate.
func (s *Service) QueuePosition(sessionID string) (int, time.Duration, bool) {
	entry, ok := s.queue.EntryForSession(sessionID)
	if !ok {
		return 0, 0, false
	}
	return s.queue.PositionAndETA(entry.ID)
}

// ScheduleCallback books an outbound callback for the customer. The
// sweep dials it once due.
func (s *Service) ScheduleCallback(customerID string, at time.Time, reason string) (types.Callback, error) {
	cust, ok := s.customers.Get(customerID)
	if !ok {
		return types.Callback{}, customer.ErrCustomerNotFound
	}
	cb := s.callbacks.Schedule(cust.ID, cust.PhoneNumber, at, reason)
	if err := s.durable.SaveCallback(cb); err != nil {
		s.logger.Error().Err(err).Str("callback_id", cb.ID).Msg("failed to persist callback")
	}
	return cb, nil
}

// onAssign is invoked by the assignment engine for each committed
// pairing: the session connects to the reserved agent and the agent is
// notified over WebSocket.
func (s *Service) onAssign(a assign.Assignment) {
	err := s.machine.Transition(a.Entry.SessionID, types.StateConnectedHuman, func(cs *types.CallSession) {
		cs.AgentID = a.AgentID
	})
	if err != nil {
		// the session ended while the pass was running; undo the
		// reservation and retire the entry
		s.logger.Warn().Err(err).
			Str("session_id", a.Entry.SessionID).
			Str("agent_id", a.AgentID).
			Msg("assigned session no longer routable")
		s.queue.Remove(a.Entry.ID)
		s.pool.Release(a.AgentID)
		return
	}

	sess, ok := s.sessions.Get(a.Entry.SessionID)
	if ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.conv.Stop(ctx, sess.RoomName); err != nil {
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to stop ai conversation")
		}
		if err := s.dialer.Bridge(ctx, sess.RoomName, a.AgentID); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to bridge agent")
		}
		s.notifyAgentAssign(a.AgentID, sess)
	}

	s.persistSession(a.Entry.SessionID)
	s.persistQueueEntry(a.Entry.ID)
	s.persistAgent(a.AgentID)
}

// BumpPriority raises the queued session's priority one level. Part of
// the sentiment escalation actions.
func (s *Service) BumpPriority(sessionID string) {
	entry, ok := s.queue.EntryForSession(sessionID)
	if !ok {
		return
	}
	next := entry.Priority + 1
	if next > types.PriorityUrgent {
		next = types.PriorityUrgent
	}
	s.queue.BumpPriority(entry.ID, next)
	s.persistQueueEntry(entry.ID)
	s.loop.Kick()
}

// RequestTransfer forces a handoff to a human agent. Part of the
// sentiment escalation actions.
func (s *Service) RequestTransfer(sessionID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.transfers.Request(ctx, sessionID, "", types.TransferWarm, reason); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sessionID).
			Str("reason", reason).
			Msg("escalation transfer not started")
	}
}

func (s *Service) sessionState(sessionID string) (types.SessionState, bool) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return "", false
	}
	return sess.State, true
}

func (s *Service) notifyAgentAssign(agentID string, sess types.CallSession) {
	if s.sender == nil {
		return
	}
	msg := types.CallAssign{
		Type:      "call_assign",
		AgentID:   agentID,
		SessionID: sess.ID,
		RoomName:  sess.RoomName,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to marshal call_assign message")
		return
	}
	if !s.sender.SendToAgent(agentID, data) {
		s.logger.Warn().
			Str("session_id", sess.ID).
			Str("agent_id", agentID).
			Msg("failed to send call_assign to agent")
	}
}

func (s *Service) notifyAgentRelease(agentID, sessionID, reason string) {
	if s.sender == nil {
		return
	}
	msg := types.CallRelease{
		Type:      "call_release",
		AgentID:   agentID,
		SessionID: sessionID,
		Reason:    reason,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.sender.SendToAgent(agentID, data)
}

func (s *Service) persistSession(sessionID string) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return
	}
	if err := s.durable.SaveSession(types.NewSessionRecord(sess)); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist session")
	}
}

func (s *Service) persistQueueEntry(entryID string) {
	entry, ok := s.queue.EntryByID(entryID)
	if !ok {
		return
	}
	if err := s.durable.SaveQueueEntry(entry); err != nil {
		s.logger.Error().Err(err).Str("entry_id", entryID).Msg("failed to persist queue entry")
	}
}

func (s *Service) persistAgent(agentID string) {
	agent, ok := s.pool.Get(agentID)
	if !ok {
		return
	}
	if err := s.durable.SaveAgent(agent); err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to persist agent")
	}
}

func (s *Service) persistCustomer(customerID string) {
	cust, ok := s.customers.Get(customerID)
	if !ok {
		return
	}
	if err := s.durable.SaveCustomer(cust); err != nil {
		s.logger.Error().Err(err).Str("customer_id", customerID).Msg("failed to persist customer")
	}
}
