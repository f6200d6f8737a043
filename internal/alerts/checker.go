package alerts

import (
	"fmt"
	"time"

	"github.com/agnox/callcore/internal/types"
)

const (
	longWaitWarning  = 2 * time.Minute
	longWaitCritical = 5 * time.Minute
	transferChurn    = 2
)

// CheckSessionAlerts evaluates alert rules for the live sessions and
// returns the flagged ones keyed by session id. Sessions without
// alerts do not appear in the result.
func CheckSessionAlerts(sessions []types.CallSession, entries map[string]types.QueueEntry) map[string][]types.SessionAlert {
	now := time.Now()
	out := make(map[string][]types.SessionAlert)

	for _, sess := range sessions {
		var found []types.SessionAlert

		if sess.State == types.StateQueued {
			if entry, ok := entries[sess.ID]; ok {
				wait := now.Sub(entry.EnqueuedAt)
				switch {
				case wait > longWaitCritical:
					found = append(found, types.SessionAlert{
						Rule:     "long_wait",
						Severity: types.SeverityCritical,
						Message:  fmt.Sprintf("waiting for %s", formatDuration(wait)),
					})
				case wait > longWaitWarning:
					found = append(found, types.SessionAlert{
						Rule:     "long_wait",
						Severity: types.SeverityWarning,
						Message:  fmt.Sprintf("waiting for %s", formatDuration(wait)),
					})
				}
			}
		}

		if sess.TransferCount > transferChurn {
			found = append(found, types.SessionAlert{
				Rule:     "transfer_churn",
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("%d transfers on one call", sess.TransferCount),
			})
		}

		if sess.Sentiment == types.SentimentNegative && !sess.State.Terminal() {
			found = append(found, types.SessionAlert{
				Rule:     "negative_sentiment",
				Severity: types.SeverityWarning,
				Message:  "customer sentiment is negative",
			})
		}

		if len(found) > 0 {
			out[sess.ID] = found
		}
	}
	return out
}

func formatDuration(d time.Duration) string {
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		hours := mins / 60
		mins = mins % 60
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm%ds", mins, secs)
}
