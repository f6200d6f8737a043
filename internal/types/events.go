package types

import "time"

// EventType identifies a published state-change event
type EventType string

const (
	EventQueueEntryCreated   EventType = "queue_entry_created"
	EventQueueEntryAssigned  EventType = "queue_entry_assigned"
	EventSessionStateChanged EventType = "session_state_changed"
	EventTransferRequested   EventType = "transfer_requested"
	EventTransferResolved    EventType = "transfer_resolved"
	EventSessionCompleted    EventType = "session_completed"
)

// Event is the payload fanned out to dashboards and analytics.
// Delivery is fire-and-forget, at-least-once.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`

	// queue_entry_created / queue_entry_assigned
	EntryID  string   `json:"entryId,omitempty"`
	AgentID  string   `json:"agentId,omitempty"`
	Priority Priority `json:"priority,omitempty"`

	// session_state_changed
	From SessionState `json:"from,omitempty"`
	To   SessionState `json:"to,omitempty"`

	// transfer_requested / transfer_resolved
	TransferID string          `json:"transferId,omitempty"`
	Kind       TransferKind    `json:"kind,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Outcome    TransferOutcome `json:"outcome,omitempty"`

	// session_completed
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	TransferCount   int       `json:"transferCount,omitempty"`
	FinalSentiment  Sentiment `json:"finalSentiment,omitempty"`
}

// CallAssign is sent to a connected agent when a call is routed to them
type CallAssign struct {
	Type      string    `json:"type"` // "call_assign"
	AgentID   string    `json:"agentId"`
	SessionID string    `json:"sessionId"`
	RoomName  string    `json:"roomName"`
	Skill     string    `json:"skill,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CallRelease is sent to a connected agent when their call ends or is
// transferred away
type CallRelease struct {
	Type      string `json:"type"` // "call_release"
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// AgentRegister is the first message an agent console sends after
// connecting
type AgentRegister struct {
	Type        string   `json:"type"` // "register"
	AgentID     string   `json:"agentId"`
	Name        string   `json:"name,omitempty"`
	PhoneNumber string   `json:"phoneNumber,omitempty"`
	Capacity    int      `json:"capacity,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// AgentStatusChange is sent by an agent console to change availability
type AgentStatusChange struct {
	Type    string      `json:"type"` // "status"
	AgentID string      `json:"agentId"`
	Status  AgentStatus `json:"status"`
}

// ServerAck acknowledges an agent console message
type ServerAck struct {
	Type    string `json:"type"` // "ack"
	AgentID string `json:"agentId"`
}

// QueueStats summarizes the live queue for dashboards
type QueueStats struct {
	WaitingCount    int     `json:"waitingCount"`
	AssignedCount   int     `json:"assignedCount"`
	AbandonedCount  int     `json:"abandonedCount"`
	LongestWaitSecs float64 `json:"longestWaitSecs"`
	AvgWaitSecs     float64 `json:"avgWaitSecs"`
	AnsweredInSL    int     `json:"answeredInSL"`
	TotalAnswered   int     `json:"totalAnswered"`
	CurrentSL       float64 `json:"currentSL"`
}

// AlertSeverity represents the severity of a session alert
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// SessionAlert flags a live session needing supervisor attention
type SessionAlert struct {
	Rule     string        `json:"rule"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// DashboardSnapshot is the single payload broadcast to dashboard
// subscribers every tick
type DashboardSnapshot struct {
	Type      string                    `json:"type"` // always "snapshot"
	Timestamp time.Time                 `json:"timestamp"`
	Queue     QueueStats                `json:"queue"`
	Agents    []Agent                   `json:"agents"`
	Sessions  []CallSession             `json:"sessions"`
	Alerts    map[string][]SessionAlert `json:"alerts,omitempty"` // sessionID -> alerts
}
