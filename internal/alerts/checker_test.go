package alerts

import (
	"testing"
	"time"

	"github.com/agnox/callcore/internal/types"
)

func TestLongWaitAlert(t *testing.T) {
	sessions := []types.CallSession{
		{ID: "s1", State: types.StateQueued},
		{ID: "s2", State: types.StateQueued},
		{ID: "s3", State: types.StateQueued},
	}
	entries := map[string]types.QueueEntry{
		"s1": {SessionID: "s1", EnqueuedAt: time.Now().Add(-10 * time.Minute)},
		"s2": {SessionID: "s2", EnqueuedAt: time.Now().Add(-3 * time.Minute)},
		"s3": {SessionID: "s3", EnqueuedAt: time.Now().Add(-30 * time.Second)},
	}

	got := CheckSessionAlerts(sessions, entries)

	if len(got["s1"]) != 1 || got["s1"][0].Rule != "long_wait" || got["s1"][0].Severity != types.SeverityCritical {
		t.Errorf("expected critical long_wait for s1, got %+v", got["s1"])
	}
	if len(got["s2"]) != 1 || got["s2"][0].Severity != types.SeverityWarning {
		t.Errorf("expected warning long_wait for s2, got %+v", got["s2"])
	}
	if _, ok := got["s3"]; ok {
		t.Errorf("expected no alert for short wait, got %+v", got["s3"])
	}
}

func TestTransferChurnAlert(t *testing.T) {
	sessions := []types.CallSession{
		{ID: "s1", State: types.StateConnectedHuman, TransferCount: 3, Sentiment: types.SentimentNeutral},
		{ID: "s2", State: types.StateConnectedHuman, TransferCount: 2, Sentiment: types.SentimentNeutral},
	}

	got := CheckSessionAlerts(sessions, nil)

	if len(got["s1"]) != 1 || got["s1"][0].Rule != "transfer_churn" {
		t.Errorf("expected transfer_churn for s1, got %+v", got["s1"])
	}
	if _, ok := got["s2"]; ok {
		t.Errorf("expected no alert at the churn threshold, got %+v", got["s2"])
	}
}

func TestNegativeSentimentAlert(t *testing.T) {
	sessions := []types.CallSession{
		{ID: "s1", State: types.StateConnectedAI, Sentiment: types.SentimentNegative},
	}

	got := CheckSessionAlerts(sessions, nil)
	if len(got["s1"]) != 1 || got["s1"][0].Rule != "negative_sentiment" {
		t.Errorf("expected negative_sentiment alert, got %+v", got["s1"])
	}
}

func TestMultipleAlertsOnOneSession(t *testing.T) {
	sessions := []types.CallSession{
		{ID: "s1", State: types.StateQueued, TransferCount: 4, Sentiment: types.SentimentNegative},
	}
	entries := map[string]types.QueueEntry{
		"s1": {SessionID: "s1", EnqueuedAt: time.Now().Add(-10 * time.Minute)},
	}

	got := CheckSessionAlerts(sessions, entries)
	if len(got["s1"]) != 3 {
		t.Errorf("expected 3 alerts, got %+v", got["s1"])
	}
}
