package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

func newTestManager() *Manager {
	est := NewWaitEstimator(10, 30*time.Second)
	sl := NewSLTracker(20 * time.Second)
	return NewManager(est, sl, zerolog.Nop())
}

func allSkills(string) bool { return true }

func TestEnqueueDuplicate(t *testing.T) {
	m := newTestManager()

	if _, err := m.Enqueue("s-1", types.PriorityNormal, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Enqueue("s-1", types.PriorityHigh, ""); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestDequeueOrdering(t *testing.T) {
	m := newTestManager()

	// Priorities [2,5,5,1] enqueued in that order must dequeue as
	// 5 (earliest), 5, 2, 1.
	e2, _ := m.Enqueue("s-a", types.Priority(2), "")
	e5a, _ := m.Enqueue("s-b", types.Priority(5), "")
	e5b, _ := m.Enqueue("s-c", types.Priority(5), "")
	e1, _ := m.Enqueue("s-d", types.Priority(1), "")

	want := []string{e5a.ID, e5b.ID, e2.ID, e1.ID}
	for i, id := range want {
		got := m.DequeueNext(allSkills)
		if got == nil {
			t.Fatalf("position %d: expected entry, got nil", i)
		}
		if got.ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got.ID)
		}
	}
	if m.DequeueNext(allSkills) != nil {
		t.Error("expected nil from empty queue")
	}
}

func TestDequeueSkillFilter(t *testing.T) {
	m := newTestManager()

	m.Enqueue("s-1", types.PriorityUrgent, "billing")
	plain, _ := m.Enqueue("s-2", types.PriorityNormal, "")

	got := m.DequeueNext(func(skill string) bool { return skill == "" })
	if got == nil || got.ID != plain.ID {
		t.Fatalf("expected the unskilled entry, got %+v", got)
	}

	// The billing entry is still waiting for an eligible agent
	if _, _, ok := m.PositionAndETA(gotEntryID(t, m, "s-1")); !ok {
		t.Error("billing entry should still be waiting")
	}
}

func gotEntryID(t *testing.T, m *Manager, sessionID string) string {
	t.Helper()
	entry, ok := m.EntryForSession(sessionID)
	if !ok {
		t.Fatalf("no live entry for session %s", sessionID)
	}
	return entry.ID
}

func TestConcurrentDequeueUnique(t *testing.T) {
	m := newTestManager()

	const n = 50
	for i := 0; i < n; i++ {
		m.Enqueue(string(rune('a'+i%26))+string(rune('0'+i/26)), types.PriorityNormal, "")
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				entry := m.DequeueNext(allSkills)
				if entry == nil {
					return
				}
				mu.Lock()
				seen[entry.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique entries, got %d", n, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("entry %s dequeued %d times", id, count)
		}
	}
}

func TestBumpPriorityReorders(t *testing.T) {
	m := newTestManager()

	first, _ := m.Enqueue("s-1", types.PriorityNormal, "")
	second, _ := m.Enqueue("s-2", types.PriorityNormal, "")

	m.BumpPriority(second.ID, types.PriorityUrgent)

	got := m.DequeueNext(allSkills)
	if got.ID != second.ID {
		t.Errorf("expected bumped entry first, got %s", got.ID)
	}
	if got.EnqueuedAt != second.EnqueuedAt {
		t.Error("bump must not change the enqueue timestamp")
	}

	got = m.DequeueNext(allSkills)
	if got.ID != first.ID {
		t.Errorf("expected original entry second, got %s", got.ID)
	}
}

func TestBumpPriorityNoopWhenAssigned(t *testing.T) {
	m := newTestManager()

	entry, _ := m.Enqueue("s-1", types.PriorityNormal, "")
	m.DequeueNext(allSkills)
	m.MarkAssigned(entry.ID, "agent-1")

	// Must not panic or error
	m.BumpPriority(entry.ID, types.PriorityUrgent)

	assigned, ok := m.EntryForSession("s-1")
	if !ok || assigned.Priority != types.PriorityNormal {
		t.Errorf("assigned entry priority must be unchanged, got %+v", assigned)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	m := newTestManager()

	entry, _ := m.Enqueue("s-1", types.PriorityNormal, "")

	if !m.Remove(entry.ID) {
		t.Error("first remove should report removal")
	}
	if m.Remove(entry.ID) {
		t.Error("second remove must be a no-op")
	}

	// Session can queue again after removal
	if _, err := m.Enqueue("s-1", types.PriorityNormal, ""); err != nil {
		t.Errorf("re-enqueue after remove failed: %v", err)
	}
}

func TestReenqueuePreservesOrder(t *testing.T) {
	m := newTestManager()

	first, _ := m.Enqueue("s-1", types.PriorityHigh, "")
	m.Enqueue("s-2", types.PriorityNormal, "")

	popped := m.DequeueNext(allSkills)
	if popped.ID != first.ID {
		t.Fatalf("expected high priority entry, got %s", popped.ID)
	}

	// Lost reservation race: put it back, not penalized
	m.Reenqueue(popped)

	got := m.DequeueNext(allSkills)
	if got.ID != first.ID {
		t.Errorf("re-enqueued entry must keep its position, got %s", got.ID)
	}
}

func TestPositionAndETAMonotonic(t *testing.T) {
	m := newTestManager()

	var ids []string
	for _, s := range []string{"s-1", "s-2", "s-3", "s-4"} {
		entry, _ := m.Enqueue(s, types.PriorityNormal, "")
		ids = append(ids, entry.ID)
	}

	var lastETA time.Duration
	for i, id := range ids {
		rank, eta, ok := m.PositionAndETA(id)
		if !ok {
			t.Fatalf("entry %d should be waiting", i)
		}
		if rank != i {
			t.Errorf("entry %d: expected rank %d, got %d", i, i, rank)
		}
		if eta < lastETA {
			t.Errorf("entry %d: ETA %s decreased below %s", i, eta, lastETA)
		}
		lastETA = eta
	}

	// Not waiting -> ok false
	m.DequeueNext(allSkills)
	m.MarkAssigned(ids[0], "agent-1")
	if _, _, ok := m.PositionAndETA(ids[0]); ok {
		t.Error("assigned entry must not report a position")
	}
}

func TestStatsTracksAssignments(t *testing.T) {
	m := newTestManager()

	entry, _ := m.Enqueue("s-1", types.PriorityNormal, "")
	m.Enqueue("s-2", types.PriorityNormal, "")

	m.DequeueNext(allSkills)
	m.MarkAssigned(entry.ID, "agent-1")

	stats := m.Stats()
	if stats.WaitingCount != 1 {
		t.Errorf("expected 1 waiting, got %d", stats.WaitingCount)
	}
	if stats.AssignedCount != 1 {
		t.Errorf("expected 1 assigned, got %d", stats.AssignedCount)
	}
	if stats.TotalAnswered != 1 {
		t.Errorf("expected 1 answered, got %d", stats.TotalAnswered)
	}
}

func TestWaitEstimatorRollingAverage(t *testing.T) {
	est := NewWaitEstimator(3, time.Minute)

	if est.Average() != time.Minute {
		t.Errorf("expected fallback before samples, got %s", est.Average())
	}

	est.Record(10 * time.Second)
	est.Record(20 * time.Second)
	if est.Average() != 15*time.Second {
		t.Errorf("expected 15s average, got %s", est.Average())
	}

	// Window rolls: the 10s sample falls out
	est.Record(30 * time.Second)
	est.Record(40 * time.Second)
	if est.Average() != 30*time.Second {
		t.Errorf("expected 30s average, got %s", est.Average())
	}

	if est.Estimate(0) != 30*time.Second || est.Estimate(2) != 90*time.Second {
		t.Error("estimate must scale with rank")
	}
}
