package types

import "time"

// SessionState is the lifecycle state of a call session
type SessionState string

const (
	// StateDialing is the pre-state of an outbound call before the
	// dial outcome is known.
	StateDialing SessionState = "dialing"
	// StateQueued means the call is waiting for a human agent.
	StateQueued SessionState = "queued"
	// StateConnectedAI means the AI agent is handling the call.
	StateConnectedAI SessionState = "connected_ai"
	// StateConnectedHuman means a human agent is handling the call.
	StateConnectedHuman SessionState = "connected_human"
	// StateTransferring means a transfer is in flight.
	StateTransferring SessionState = "transferring"
	// StateCompleted and StateAbandoned are terminal.
	StateCompleted SessionState = "completed"
	StateAbandoned SessionState = "abandoned"
)

// Terminal reports whether s is a terminal state.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// CallSession is the full lifecycle record of one call. Mutated only
// through the session store; retained read-only after finalization.
type CallSession struct {
	ID              string       `json:"sessionId"`
	Direction       Direction    `json:"direction"`
	CustomerID      string       `json:"customerId,omitempty"`
	AgentID         string       `json:"agentId,omitempty"`
	RoomName        string       `json:"roomName"`
	PhoneNumber     string       `json:"phoneNumber"`
	State           SessionState `json:"state"`
	Mode            HandlingMode `json:"mode"`
	Sentiment       Sentiment    `json:"sentiment"`
	TransferCount   int          `json:"transferCount"`
	StartTime       time.Time    `json:"startTime"`
	EndTime         *time.Time   `json:"endTime,omitempty"`
	DurationSeconds float64      `json:"durationSeconds,omitempty"`
	EndReason       string       `json:"endReason,omitempty"`
}

// QueueEntryStatus is the status of a queue entry
type QueueEntryStatus string

const (
	EntryWaiting  QueueEntryStatus = "waiting"
	EntryAssigned QueueEntryStatus = "assigned"
	// EntryRemoved only appears in durable records; removed entries
	// leave the live queue entirely.
	EntryRemoved QueueEntryStatus = "removed"
)

// QueueEntry represents one call waiting for assignment. An assigned
// entry always references exactly one agent that had capacity at the
// moment of assignment.
type QueueEntry struct {
	ID              string           `json:"entryId"`
	SessionID       string           `json:"sessionId"`
	Priority        Priority         `json:"priority"`
	Skill           string           `json:"skill,omitempty"`
	Status          QueueEntryStatus `json:"status"`
	AssignedAgentID string           `json:"assignedAgentId,omitempty"`
	EnqueuedAt      time.Time        `json:"enqueuedAt"`
	AssignedAt      *time.Time       `json:"assignedAt,omitempty"`
}

// TranscriptEvent is one utterance in a session's transcript.
// Append-only, never mutated after creation.
type TranscriptEvent struct {
	SessionID  string    `json:"sessionId"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TransferRequest records one warm or cold transfer attempt.
// Terminal once Outcome is set to succeeded or failed.
type TransferRequest struct {
	ID            string          `json:"transferId"`
	SessionID     string          `json:"sessionId"`
	SourceMode    HandlingMode    `json:"sourceMode"`
	SourceAgentID string          `json:"sourceAgentId,omitempty"`
	TargetAgentID string          `json:"targetAgentId,omitempty"`
	Kind          TransferKind    `json:"kind"`
	Reason        string          `json:"reason,omitempty"`
	Outcome       TransferOutcome `json:"outcome"`
	CreatedAt     time.Time       `json:"createdAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
}
