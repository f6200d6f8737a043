package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

// Subscriber receives published state-change events. Implementations
// must not block: the notifier is a pure publish step on the engine's
// hot path.
type Subscriber interface {
	Notify(ev types.Event)
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(ev types.Event)

func (f SubscriberFunc) Notify(ev types.Event) { f(ev) }

// Notifier fans out state-change events to registered subscribers.
// Delivery is fire-and-forget, at-least-once; it is never a decision
// point.
type Notifier struct {
	mu        sync.RWMutex
	subs      []Subscriber
	published int64
	logger    zerolog.Logger
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier(logger zerolog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe registers a subscriber for all future events.
func (n *Notifier) Subscribe(s Subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, s)
}

// Publish delivers the event to every subscriber.
func (n *Notifier) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	n.mu.RLock()
	subs := n.subs
	n.mu.RUnlock()
	atomic.AddInt64(&n.published, 1)

	for _, s := range subs {
		s.Notify(ev)
	}

	n.logger.Debug().
		Str("type", string(ev.Type)).
		Str("session_id", ev.SessionID).
		Msg("event published")
}

// Published returns the number of events published so far.
func (n *Notifier) Published() int64 {
	return atomic.LoadInt64(&n.published)
}
