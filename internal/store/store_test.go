package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

func newTestStore() *SessionStore {
	return NewSessionStore(zerolog.Nop())
}

func TestCreateAndGet(t *testing.T) {
	st := newTestStore()

	s := types.CallSession{ID: "s-1", Direction: types.DirectionInbound, State: types.StateConnectedAI, StartTime: time.Now()}
	if err := st.Create(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := st.Get("s-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if got.State != types.StateConnectedAI {
		t.Errorf("expected connected_ai, got %s", got.State)
	}

	if err := st.Create(s); !errors.Is(err, ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}
}

func TestMutateRollbackOnError(t *testing.T) {
	st := newTestStore()
	st.Create(types.CallSession{ID: "s-1", State: types.StateQueued})

	boom := errors.New("boom")
	err := st.Mutate("s-1", func(s *types.CallSession) error {
		s.State = types.StateCompleted
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := st.Get("s-1")
	if got.State != types.StateQueued {
		t.Errorf("failed mutation must leave state unchanged, got %s", got.State)
	}
}

func TestMutateUnknownSession(t *testing.T) {
	st := newTestStore()
	err := st.Mutate("nope", func(s *types.CallSession) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTranscriptOrdering(t *testing.T) {
	st := newTestStore()
	st.Create(types.CallSession{ID: "s-1", State: types.StateConnectedAI})

	for i, text := range []string{"hello", "hi there", "bye"} {
		ev := types.TranscriptEvent{
			SessionID: "s-1",
			Speaker:   types.SpeakerCustomer,
			Text:      text,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.AppendTranscript(ev); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	transcript, err := st.Transcript("s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(transcript) != 3 {
		t.Fatalf("expected 3 events, got %d", len(transcript))
	}
	if transcript[0].Text != "hello" || transcript[2].Text != "bye" {
		t.Error("transcript must preserve arrival order")
	}
}

func TestResolveTransferTerminalOnce(t *testing.T) {
	st := newTestStore()
	st.Create(types.CallSession{ID: "s-1", State: types.StateConnectedHuman})
	st.AddTransfer(types.TransferRequest{ID: "t-1", SessionID: "s-1", Outcome: types.TransferPending})

	st.ResolveTransfer("s-1", "t-1", func(tr *types.TransferRequest) {
		tr.Outcome = types.TransferSucceeded
	})
	// Second resolve must not change the terminal outcome
	st.ResolveTransfer("s-1", "t-1", func(tr *types.TransferRequest) {
		tr.Outcome = types.TransferFailed
	})

	transfers, _ := st.Transfers("s-1")
	if transfers[0].Outcome != types.TransferSucceeded {
		t.Errorf("expected succeeded, got %s", transfers[0].Outcome)
	}
}

func TestActiveExcludesTerminal(t *testing.T) {
	st := newTestStore()
	now := time.Now()
	st.Create(types.CallSession{ID: "s-1", State: types.StateQueued, StartTime: now})
	st.Create(types.CallSession{ID: "s-2", State: types.StateCompleted, StartTime: now.Add(time.Second)})
	st.Create(types.CallSession{ID: "s-3", State: types.StateConnectedHuman, StartTime: now.Add(2 * time.Second)})

	active := st.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	if active[0].ID != "s-1" || active[1].ID != "s-3" {
		t.Errorf("expected s-1, s-3 in start order, got %s, %s", active[0].ID, active[1].ID)
	}
}

func TestConcurrentMutateDifferentSessions(t *testing.T) {
	st := newTestStore()
	st.Create(types.CallSession{ID: "s-1", State: types.StateConnectedAI})
	st.Create(types.CallSession{ID: "s-2", State: types.StateConnectedAI})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Mutate("s-1", func(s *types.CallSession) error {
				s.TransferCount++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			st.Mutate("s-2", func(s *types.CallSession) error {
				s.TransferCount++
				return nil
			})
		}()
	}
	wg.Wait()

	s1, _ := st.Get("s-1")
	s2, _ := st.Get("s-2")
	if s1.TransferCount != 100 || s2.TransferCount != 100 {
		t.Errorf("expected 100 increments each, got %d and %d", s1.TransferCount, s2.TransferCount)
	}
}

func TestResume(t *testing.T) {
	st := newTestStore()
	st.Create(types.CallSession{ID: "s-1", State: types.StateQueued})

	loaded := st.Resume([]types.CallSession{
		{ID: "s-1", State: types.StateCompleted}, // must not overwrite
		{ID: "s-2", State: types.StateConnectedHuman},
	})
	if loaded != 1 {
		t.Errorf("expected 1 loaded, got %d", loaded)
	}

	s1, _ := st.Get("s-1")
	if s1.State != types.StateQueued {
		t.Errorf("resume must not overwrite live session, got %s", s1.State)
	}
	if _, ok := st.Get("s-2"); !ok {
		t.Error("expected s-2 to be resumed")
	}
}
