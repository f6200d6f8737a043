package types

import "time"

// SessionRecord is a finalized call session flattened for persistence
type SessionRecord struct {
	DateKey         string  `json:"dateKey" dynamodbav:"DateKey"` // YYYY-MM-DD (partition key)
	SessionID       string  `json:"sessionId" dynamodbav:"SessionID"`
	Direction       string  `json:"direction" dynamodbav:"Direction"`
	CustomerID      string  `json:"customerId" dynamodbav:"CustomerID"`
	AgentID         string  `json:"agentId" dynamodbav:"AgentID"`
	RoomName        string  `json:"roomName" dynamodbav:"RoomName"`
	PhoneNumber     string  `json:"phoneNumber" dynamodbav:"PhoneNumber"`
	State           string  `json:"state" dynamodbav:"State"`
	Mode            string  `json:"mode" dynamodbav:"Mode"`
	Sentiment       string  `json:"sentiment" dynamodbav:"Sentiment"`
	TransferCount   int     `json:"transferCount" dynamodbav:"TransferCount"`
	StartTime       string  `json:"startTime" dynamodbav:"StartTime"` // RFC3339
	EndTime         string  `json:"endTime" dynamodbav:"EndTime"`     // RFC3339
	DurationSeconds float64 `json:"durationSeconds" dynamodbav:"DurationSeconds"`
	EndReason       string  `json:"endReason" dynamodbav:"EndReason"`
}

// NewSessionRecord flattens a session for the durable store.
func NewSessionRecord(s CallSession) SessionRecord {
	rec := SessionRecord{
		DateKey:         s.StartTime.Format("2006-01-02"),
		SessionID:       s.ID,
		Direction:       string(s.Direction),
		CustomerID:      s.CustomerID,
		AgentID:         s.AgentID,
		RoomName:        s.RoomName,
		PhoneNumber:     s.PhoneNumber,
		State:           string(s.State),
		Mode:            string(s.Mode),
		Sentiment:       string(s.Sentiment),
		TransferCount:   s.TransferCount,
		StartTime:       s.StartTime.Format(time.RFC3339),
		DurationSeconds: s.DurationSeconds,
		EndReason:       s.EndReason,
	}
	if s.EndTime != nil {
		rec.EndTime = s.EndTime.Format(time.RFC3339)
	}
	return rec
}

// TranscriptRecord is a transcript event flattened for persistence
type TranscriptRecord struct {
	SessionID  string  `json:"sessionId" dynamodbav:"SessionID"` // partition key
	Timestamp  string  `json:"timestamp" dynamodbav:"Timestamp"` // RFC3339Nano (sort key)
	Speaker    string  `json:"speaker" dynamodbav:"Speaker"`
	Text       string  `json:"text" dynamodbav:"Text"`
	Confidence float64 `json:"confidence" dynamodbav:"Confidence"`
	Sentiment  string  `json:"sentiment" dynamodbav:"Sentiment"`
}

// NewTranscriptRecord flattens a transcript event for the durable store.
func NewTranscriptRecord(ev TranscriptEvent) TranscriptRecord {
	return TranscriptRecord{
		SessionID:  ev.SessionID,
		Timestamp:  ev.Timestamp.Format(time.RFC3339Nano),
		Speaker:    string(ev.Speaker),
		Text:       ev.Text,
		Confidence: ev.Confidence,
		Sentiment:  string(ev.Sentiment),
	}
}
