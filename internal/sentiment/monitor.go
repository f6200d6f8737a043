package sentiment

import (
	"strings"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// escalationKeywords mark an utterance negative regardless of its
// sentiment label. A customer asking for a supervisor is escalating
// even when the classifier reads the sentence as neutral.
var escalationKeywords = []string{
	"manager", "supervisor", "complaint", "sue", "lawyer",
	"unacceptable", "ridiculous", "refund", "money back",
}

// Actions are the escalation hooks the monitor fires. BumpPriority is
// used for queued sessions, RequestTransfer for sessions in AI
// handling.
type Actions interface {
	BumpPriority(sessionID string)
	RequestTransfer(sessionID, reason string)
}

// StateFn reports a session's current lifecycle state.
type StateFn func(sessionID string) (types.SessionState, bool)

// feed is the per-session consumer state. Events arrive on ch and are
// processed strictly in arrival order by one goroutine.
type feed struct {
	ch   chan types.TranscriptEvent
	done chan struct{}

	window         []bool // ring of negative flags, customer utterances only
	next           int
	filled         bool
	inCooldown     bool
	cooldownUntil  time.Time
	nonNegativeRun int
}

// Monitor watches the live transcript stream per session and escalates
// when the customer's recent sentiment turns predominantly negative.
// At most one escalation fires per cooldown; the cooldown clears only
// after a full window of non-negative customer utterances and the
// cooldown duration both pass.
type Monitor struct {
	mu         sync.Mutex
	feeds      map[string]*feed
	actions    Actions
	state      StateFn
	windowSize int
	threshold  float64
	cooldown   time.Duration
	logger     zerolog.Logger
}

// NewMonitor creates a sentiment monitor. windowSize is the number of
// customer utterances considered; threshold is the negative fraction
// that triggers escalation.
func NewMonitor(actions Actions, state StateFn, windowSize int, threshold float64, cooldown time.Duration, logger zerolog.Logger) *Monitor {
	if windowSize < 1 {
		windowSize = 1
	}
	return &Monitor{
		feeds:      make(map[string]*feed),
		actions:    actions,
		state:      state,
		windowSize: windowSize,
		threshold:  threshold,
		cooldown:   cooldown,
		logger:     logger,
	}
}

// Observe feeds one transcript event into the session's stream. The
// channel is sized generously; when it is full the producer blocks
// rather than dropping events, which would skew the window. Events for
// unknown or ended sessions are dropped so a late webhook cannot reopen
// a closed feed.
func (m *Monitor) Observe(ev types.TranscriptEvent) {
	m.mu.Lock()
	f, ok := m.feeds[ev.SessionID]
	if !ok {
		state, known := m.state(ev.SessionID)
		if !known || state.Terminal() {
			m.mu.Unlock()
			return
		}
		f = &feed{
			ch:     make(chan types.TranscriptEvent, 256),
			done:   make(chan struct{}),
			window: make([]bool, m.windowSize),
		}
		m.feeds[ev.SessionID] = f
		go m.consume(ev.SessionID, f)
	}
	m.mu.Unlock()

	select {
	case f.ch <- ev:
	case <-f.done:
	}
}

// Close tears down the session's feed. Called when the session ends.
func (m *Monitor) Close(sessionID string) {
	m.mu.Lock()
	f, ok := m.feeds[sessionID]
	if ok {
		delete(m.feeds, sessionID)
	}
	m.mu.Unlock()
	if ok {
		close(f.done)
	}
}

// Sessions returns the number of sessions with an open feed.
func (m *Monitor) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds)
}

func (m *Monitor) consume(sessionID string, f *feed) {
	for {
		select {
		case <-f.done:
			return
		case ev := <-f.ch:
			m.process(sessionID, f, ev)
		}
	}
}

func (m *Monitor) process(sessionID string, f *feed, ev types.TranscriptEvent) {
	if ev.Speaker != types.SpeakerCustomer {
		return
	}

	negative := ev.Sentiment == types.SentimentNegative || hasEscalationKeyword(ev.Text)

	f.window[f.next] = negative
	f.next++
	if f.next == len(f.window) {
		f.next = 0
		f.filled = true
	}

	if negative {
		f.nonNegativeRun = 0
	} else {
		f.nonNegativeRun++
	}

	if f.inCooldown {
		if f.nonNegativeRun >= len(f.window) && time.Now().After(f.cooldownUntil) {
			f.inCooldown = false
		}
		return
	}

	if !f.filled {
		return
	}
	negatives := 0
	for _, n := range f.window {
		if n {
			negatives++
		}
	}
	if float64(negatives)/float64(len(f.window)) < m.threshold {
		return
	}

	f.inCooldown = true
	f.cooldownUntil = time.Now().Add(m.cooldown)
	m.escalate(sessionID)
}

// escalate fires the action matching the session's current state: a
// priority bump while queued, a forced handoff while the AI handles
// the call. Other states ignore the escalation; the cooldown still
// applies so a burst of negativity is acted on once.
func (m *Monitor) escalate(sessionID string) {
	state, ok := m.state(sessionID)
	if !ok {
		return
	}

	m.logger.Warn().
		Str("session_id", sessionID).
		Str("state", string(state)).
		Msg("negative sentiment threshold crossed, escalating")

	switch state {
	case types.StateQueued:
		m.actions.BumpPriority(sessionID)
	case types.StateConnectedAI:
		m.actions.RequestTransfer(sessionID, "sentiment_escalation")
	}
}

func hasEscalationKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
