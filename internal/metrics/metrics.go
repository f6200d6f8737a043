package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Session metrics
	SessionsStartedTotal   int64
	SessionsCompletedTotal int64
	SessionsAbandonedTotal int64

	// Queue metrics
	QueueEntriesCreatedTotal  int64
	QueueEntriesAssignedTotal int64

	// Transfer metrics
	TransfersRequestedTotal int64
	TransfersSucceededTotal int64
	TransfersFailedTotal    int64

	// Agent console metrics
	AgentConnectionsTotal    int64
	AgentDisconnectionsTotal int64
	activeAgentConnections   int64

	// Dashboard WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	activeConnections            int64

	// Snapshot broadcast metrics
	SnapshotCyclesTotal  int64
	SnapshotErrorsTotal  int64
	lastSnapshotDuration time.Duration

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			httpRequestsTotal:    make(map[string]map[int]int64),
			httpRequestDurations: make(map[string][]float64),
			startTime:            time.Now(),
		}
	})
	return instance
}

// RecordEvent counts one published engine event by type. Wired as a
// notifier subscriber so every component's events land here without
// per-call-site instrumentation.
func (m *Metrics) RecordEvent(ev types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case types.EventQueueEntryCreated:
		m.QueueEntriesCreatedTotal++
	case types.EventQueueEntryAssigned:
		m.QueueEntriesAssignedTotal++
	case types.EventTransferRequested:
		m.TransfersRequestedTotal++
	case types.EventTransferResolved:
		switch ev.Outcome {
		case types.TransferSucceeded:
			m.TransfersSucceededTotal++
		case types.TransferFailed:
			m.TransfersFailedTotal++
		}
	case types.EventSessionCompleted:
		if ev.To == types.StateAbandoned {
			m.SessionsAbandonedTotal++
		} else {
			m.SessionsCompletedTotal++
		}
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.mu.Lock()
	m.SessionsStartedTotal++
	m.mu.Unlock()
}

// RecordAgentConnect increments agent console connection counters
func (m *Metrics) RecordAgentConnect() {
	m.mu.Lock()
	m.AgentConnectionsTotal++
	m.activeAgentConnections++
	m.mu.Unlock()
}

// RecordAgentDisconnect increments agent console disconnection counter
func (m *Metrics) RecordAgentDisconnect() {
	m.mu.Lock()
	m.AgentDisconnectionsTotal++
	m.activeAgentConnections--
	m.mu.Unlock()
}

// RecordWebSocketConnect increments dashboard connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments dashboard disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordSnapshotCycle records one dashboard snapshot broadcast
func (m *Metrics) RecordSnapshotCycle(duration time.Duration) {
	m.mu.Lock()
	m.SnapshotCyclesTotal++
	m.lastSnapshotDuration = duration
	m.mu.Unlock()
}

// RecordSnapshotError increments the snapshot error counter
func (m *Metrics) RecordSnapshotError() {
	m.mu.Lock()
	m.SnapshotErrorsTotal++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current dashboard WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("callcore_uptime_seconds", time.Since(m.startTime).Seconds())

		// Session metrics
		write("callcore_sessions_started_total", m.SessionsStartedTotal)
		write("callcore_sessions_completed_total", m.SessionsCompletedTotal)
		write("callcore_sessions_abandoned_total", m.SessionsAbandonedTotal)

		// Queue metrics
		write("callcore_queue_entries_created_total", m.QueueEntriesCreatedTotal)
		write("callcore_queue_entries_assigned_total", m.QueueEntriesAssignedTotal)

		// Transfer metrics
		write("callcore_transfers_requested_total", m.TransfersRequestedTotal)
		write("callcore_transfers_succeeded_total", m.TransfersSucceededTotal)
		write("callcore_transfers_failed_total", m.TransfersFailedTotal)

		// Agent console metrics
		write("callcore_agent_connections_total", m.AgentConnectionsTotal)
		write("callcore_agent_disconnections_total", m.AgentDisconnectionsTotal)
		write("callcore_agent_active_connections", m.activeAgentConnections)

		// Dashboard WebSocket metrics
		write("callcore_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("callcore_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("callcore_websocket_active_connections", m.activeConnections)

		// Snapshot metrics
		write("callcore_snapshot_cycles_total", m.SnapshotCyclesTotal)
		write("callcore_snapshot_errors_total", m.SnapshotErrorsTotal)
		write("callcore_snapshot_duration_seconds", m.lastSnapshotDuration.Seconds())

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("callcore_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
