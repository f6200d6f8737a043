package transfer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/session"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/telephony"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

type fixture struct {
	coord   *Coordinator
	store   *store.SessionStore
	pool    *agentpool.Pool
	machine *session.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewSessionStore(zerolog.Nop())
	n := notify.NewNotifier(zerolog.Nop())
	m := session.NewMachine(st, n, zerolog.Nop())
	p := agentpool.NewPool(zerolog.Nop())
	d := telephony.NewLogDialer(zerolog.Nop())
	conv := telephony.NewLogConversation(zerolog.Nop())
	return &fixture{
		coord:   NewCoordinator(st, m, p, n, d, conv, storage.NewNoopStore(), 30*time.Second, zerolog.Nop()),
		store:   st,
		pool:    p,
		machine: m,
	}
}

func (f *fixture) seedSession(t *testing.T, id string, state types.SessionState, mode types.HandlingMode, agentID string) {
	t.Helper()
	err := f.store.Create(types.CallSession{
		ID:        id,
		Direction: types.DirectionInbound,
		State:     state,
		Mode:      mode,
		AgentID:   agentID,
		RoomName:  "room-" + id,
		StartTime: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) seedAgent(t *testing.T, id string, capacity int) {
	t.Helper()
	f.pool.Register(types.Agent{ID: id, Capacity: capacity})
	if err := f.pool.SetStatus(id, types.AgentOnline); err != nil {
		t.Fatal(err)
	}
}

func TestWarmTransferFromAI(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 1)

	tr, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "sentiment_escalation")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TargetAgentID != "agent-1" {
		t.Errorf("expected target agent-1, got %s", tr.TargetAgentID)
	}

	s, _ := f.store.Get("s1")
	if s.State != types.StateTransferring {
		t.Fatalf("expected transferring, got %s", s.State)
	}
	if s.TransferCount != 1 {
		t.Errorf("expected transfer count 1, got %d", s.TransferCount)
	}

	if err := f.coord.Complete(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	s, _ = f.store.Get("s1")
	if s.State != types.StateConnectedHuman || s.Mode != types.ModeHuman {
		t.Errorf("expected connected_human/human, got %s/%s", s.State, s.Mode)
	}
	if s.AgentID != "agent-1" {
		t.Errorf("expected session agent agent-1, got %s", s.AgentID)
	}

	transfers, _ := f.store.Transfers("s1")
	if len(transfers) != 1 || transfers[0].Outcome != types.TransferSucceeded {
		t.Errorf("expected one succeeded transfer, got %+v", transfers)
	}
}

func TestColdTransferBetweenHumans(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedHuman, types.ModeHuman, "agent-src")
	f.seedAgent(t, "agent-src", 1)
	f.seedAgent(t, "agent-dst", 1)
	if !f.pool.Reserve("agent-src", "") {
		t.Fatal("seed reservation failed")
	}

	tr, err := f.coord.Request(context.Background(), "s1", "agent-dst", types.TransferCold, "escalation")
	if err != nil {
		t.Fatal(err)
	}
	if tr.TargetAgentID != "agent-dst" {
		t.Errorf("expected explicit target honored, got %s", tr.TargetAgentID)
	}

	if err := f.coord.Complete(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}

	// the source agent's slot is freed, the target's is held
	src, _ := f.pool.Get("agent-src")
	dst, _ := f.pool.Get("agent-dst")
	if src.Load != 0 {
		t.Errorf("expected source load 0, got %d", src.Load)
	}
	if dst.Load != 1 {
		t.Errorf("expected target load 1, got %d", dst.Load)
	}
}

func TestTransferNoEligibleAgent(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")

	_, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff")
	if !errors.Is(err, ErrNoTargetAgent) {
		t.Fatalf("expected ErrNoTargetAgent, got %v", err)
	}

	s, _ := f.store.Get("s1")
	if s.State != types.StateConnectedAI || s.TransferCount != 0 {
		t.Errorf("failed request mutated session: %s count=%d", s.State, s.TransferCount)
	}
}

func TestTransferRejectsSecondInFlight(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 2)

	if _, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff"); err != nil {
		t.Fatal(err)
	}
	_, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff")
	if !errors.Is(err, ErrTransferInFlight) {
		t.Fatalf("expected ErrTransferInFlight, got %v", err)
	}
}

func TestFailRollsBack(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 1)

	if _, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Fail("s1", "agent_rejected"); err != nil {
		t.Fatal(err)
	}

	s, _ := f.store.Get("s1")
	if s.State != types.StateConnectedAI || s.Mode != types.ModeAI {
		t.Errorf("expected rollback to connected_ai/ai, got %s/%s", s.State, s.Mode)
	}
	if s.TransferCount != 0 {
		t.Errorf("expected transfer count restored to 0, got %d", s.TransferCount)
	}

	agent, _ := f.pool.Get("agent-1")
	if agent.Load != 0 {
		t.Errorf("expected target reservation released, got load %d", agent.Load)
	}

	transfers, _ := f.store.Transfers("s1")
	if len(transfers) != 1 || transfers[0].Outcome != types.TransferFailed {
		t.Errorf("expected one failed transfer, got %+v", transfers)
	}

	// the session is routable again
	if _, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff"); err != nil {
		t.Fatalf("expected new transfer after rollback, got %v", err)
	}
}

func TestExpireRetriesOnceThenFails(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 1)
	f.seedAgent(t, "agent-2", 1)

	tr, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff")
	if err != nil {
		t.Fatal(err)
	}
	firstTarget := tr.TargetAgentID

	// first expiry retries against the other agent
	f.coord.ExpirePending(context.Background(), time.Now().Add(time.Minute))
	if !f.coord.HasPending("s1") {
		t.Fatal("expected transfer still pending after retry")
	}
	first, _ := f.pool.Get(firstTarget)
	if first.Load != 0 {
		t.Errorf("expected first target released on retry, got load %d", first.Load)
	}

	// second expiry fails and rolls back
	f.coord.ExpirePending(context.Background(), time.Now().Add(2*time.Minute))
	if f.coord.HasPending("s1") {
		t.Fatal("expected transfer resolved after second expiry")
	}

	s, _ := f.store.Get("s1")
	if s.State != types.StateConnectedAI || s.TransferCount != 0 {
		t.Errorf("expected rollback after timeout, got %s count=%d", s.State, s.TransferCount)
	}
	transfers, _ := f.store.Transfers("s1")
	if len(transfers) != 1 || transfers[0].Outcome != types.TransferFailed {
		t.Errorf("expected failed transfer record, got %+v", transfers)
	}
}

func TestExplicitTargetNotRetried(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedHuman, types.ModeHuman, "agent-src")
	f.seedAgent(t, "agent-src", 1)
	f.seedAgent(t, "agent-dst", 1)
	f.seedAgent(t, "agent-other", 1)

	if _, err := f.coord.Request(context.Background(), "s1", "agent-dst", types.TransferWarm, "specialist"); err != nil {
		t.Fatal(err)
	}

	f.coord.ExpirePending(context.Background(), time.Now().Add(time.Minute))
	if f.coord.HasPending("s1") {
		t.Fatal("expected explicitly targeted transfer to fail without retry")
	}

	s, _ := f.store.Get("s1")
	if s.State != types.StateConnectedHuman {
		t.Errorf("expected rollback to connected_human, got %s", s.State)
	}
}

func TestCompleteAfterSessionEndedReleasesTarget(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 1)

	if _, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff"); err != nil {
		t.Fatal(err)
	}

	// the caller hangs up while the target is joining; the session goes
	// terminal before the accept arrives
	if err := f.machine.Complete("s1", "hangup"); err != nil {
		t.Fatal(err)
	}

	err := f.coord.Complete(context.Background(), "s1")
	if !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	agent, _ := f.pool.Get("agent-1")
	if agent.Load != 0 {
		t.Errorf("expected target reservation released, got load %d", agent.Load)
	}
	if f.coord.HasPending("s1") {
		t.Error("expected no pending transfer after failed completion")
	}
	transfers, _ := f.store.Transfers("s1")
	if len(transfers) != 1 || transfers[0].Outcome != types.TransferFailed {
		t.Errorf("expected failed transfer record, got %+v", transfers)
	}
}

func TestCancelForEndsPendingWithoutRollback(t *testing.T) {
	f := newFixture(t)
	f.seedSession(t, "s1", types.StateConnectedAI, types.ModeAI, "")
	f.seedAgent(t, "agent-1", 1)

	if _, err := f.coord.Request(context.Background(), "s1", "", types.TransferWarm, "handoff"); err != nil {
		t.Fatal(err)
	}

	f.coord.CancelFor("s1", "session_ended")
	if f.coord.HasPending("s1") {
		t.Fatal("expected no pending transfer after cancel")
	}

	// cancel leaves the session in transferring for the caller to
	// finalize, but frees the target slot
	s, _ := f.store.Get("s1")
	if s.State != types.StateTransferring {
		t.Errorf("expected session untouched by cancel, got %s", s.State)
	}
	agent, _ := f.pool.Get("agent-1")
	if agent.Load != 0 {
		t.Errorf("expected target reservation released, got load %d", agent.Load)
	}
	transfers, _ := f.store.Transfers("s1")
	if len(transfers) != 1 || transfers[0].Outcome != types.TransferFailed {
		t.Errorf("expected failed transfer record, got %+v", transfers)
	}
}
