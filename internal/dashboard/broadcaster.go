package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/alerts"
	"github.com/agnox/callcore/internal/metrics"
	"github.com/agnox/callcore/internal/queue"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/types"
	"github.com/agnox/callcore/internal/websocket"
	"github.com/rs/zerolog"
)

// Broadcaster pushes periodic state snapshots to dashboard clients
type Broadcaster struct {
	sessions *store.SessionStore
	queue    *queue.Manager
	pool     *agentpool.Pool
	hub      *websocket.Hub
	interval time.Duration
	logger   zerolog.Logger
}

// NewBroadcaster creates a new dashboard broadcaster
func NewBroadcaster(sessions *store.SessionStore, q *queue.Manager, pool *agentpool.Pool, hub *websocket.Hub, interval time.Duration, logger zerolog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = time.Second
	}
	return &Broadcaster{
		sessions: sessions,
		queue:    q,
		pool:     pool,
		hub:      hub,
		interval: interval,
		logger:   logger,
	}
}

// Start begins building and broadcasting snapshots
func (b *Broadcaster) Start(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	m := metrics.Get()
	b.logger.Info().Msg("dashboard broadcaster started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("dashboard broadcaster stopped")
			return

		case <-ticker.C:
			if b.hub.ClientCount() == 0 {
				continue
			}
			cycleStart := time.Now()

			snapshot := b.buildSnapshot()
			data, err := json.Marshal(snapshot)
			if err != nil {
				b.logger.Error().Err(err).Msg("failed to marshal snapshot")
				m.RecordSnapshotError()
				continue
			}

			b.hub.Broadcast(data)
			m.RecordSnapshotCycle(time.Since(cycleStart))

			b.logger.Debug().
				Int("sessions", len(snapshot.Sessions)).
				Int("agents", len(snapshot.Agents)).
				Int("clients", b.hub.ClientCount()).
				Msg("snapshot broadcasted")
		}
	}
}

// buildSnapshot assembles the full dashboard payload: queue summary,
// agent roster, live sessions, and per-session alerts.
func (b *Broadcaster) buildSnapshot() types.DashboardSnapshot {
	sessions := b.sessions.Active()

	entries := make(map[string]types.QueueEntry, len(sessions))
	for _, sess := range sessions {
		if entry, ok := b.queue.EntryForSession(sess.ID); ok {
			entries[sess.ID] = entry
		}
	}

	return types.DashboardSnapshot{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Queue:     b.queue.Stats(),
		Agents:    b.pool.GetAll(),
		Sessions:  sessions,
		Alerts:    alerts.CheckSessionAlerts(sessions, entries),
	}
}
