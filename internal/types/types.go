package types

import "time"

// AgentStatus represents an agent's availability
type AgentStatus string

const (
	AgentOffline AgentStatus = "offline"
	AgentOnline  AgentStatus = "online"
	AgentBusy    AgentStatus = "busy"
)

// Direction distinguishes inbound from outbound calls
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// HandlingMode identifies who is currently handling a session
type HandlingMode string

const (
	ModeAI    HandlingMode = "ai"
	ModeHuman HandlingMode = "human"
)

// Speaker identifies who produced a transcript utterance
type Speaker string

const (
	SpeakerCustomer   Speaker = "customer"
	SpeakerAIAgent    Speaker = "ai_agent"
	SpeakerHumanAgent Speaker = "human_agent"
)

// Sentiment is a per-utterance or per-session sentiment label
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Priority levels for queue entries. Higher is more urgent.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// TransferKind is the transfer protocol variant
type TransferKind string

const (
	TransferWarm TransferKind = "warm"
	TransferCold TransferKind = "cold"
)

// TransferOutcome is the terminal result of a transfer request
type TransferOutcome string

const (
	TransferPending   TransferOutcome = "pending"
	TransferSucceeded TransferOutcome = "succeeded"
	TransferFailed    TransferOutcome = "failed"
)

// CallbackStatus tracks a scheduled callback's lifecycle
type CallbackStatus string

const (
	CallbackScheduled CallbackStatus = "scheduled"
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
)

// Customer is keyed by phone number, created on first contact and never deleted
type Customer struct {
	ID          string            `json:"customerId"`
	PhoneNumber string            `json:"phoneNumber"`
	Name        string            `json:"name,omitempty"`
	Email       string            `json:"email,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TotalCalls  int               `json:"totalCalls"`
	LastCallAt  *time.Time        `json:"lastCallAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Agent is a human agent registered with the pool.
// Load must always satisfy 0 <= Load <= Capacity.
type Agent struct {
	ID          string      `json:"agentId"`
	Name        string      `json:"name,omitempty"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	Status      AgentStatus `json:"status"`
	Load        int         `json:"load"`
	Capacity    int         `json:"capacity"`
	Skills      []string    `json:"skills,omitempty"`
	StatusSince time.Time   `json:"statusSince"`
}

// HasSkill reports whether the agent carries the given skill tag.
// An empty requirement matches every agent.
func (a *Agent) HasSkill(skill string) bool {
	if skill == "" {
		return true
	}
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// Callback is a scheduled outbound call, independent of any active session
type Callback struct {
	ID          string         `json:"callbackId"`
	CustomerID  string         `json:"customerId"`
	PhoneNumber string         `json:"phoneNumber"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	Reason      string         `json:"reason,omitempty"`
	Status      CallbackStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}
