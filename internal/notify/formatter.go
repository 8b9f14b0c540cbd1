package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

// FormatText converts an alert event to a human-readable text message.
func FormatText(event alert.Event) string {
	var msg strings.Builder

	if event.Recovery {
		msg.WriteString("Recovered: ")
	} else {
		msg.WriteString("Lambda Alert: ")
	}
	msg.WriteString(event.FunctionName)

	fmt.Fprintf(&msg, "\nSeverity: %s", event.Severity)
	fmt.Fprintf(&msg, "\nAccountID: %s", event.AccountID)
	fmt.Fprintf(&msg, "\nMetric: %s", event.MetricName)

	symbol := ">="
	if alert.LowerIsWorse(event.MetricName) {
		symbol = "<="
	}

	fmt.Fprintf(&msg, "\nObserved: %.2f (threshold %s %.2f)",
		event.ObservedValue, symbol, event.ThresholdValue)
	fmt.Fprintf(&msg, "\n\nTimestamp: %s", event.Timestamp.Format(time.RFC3339))

	return msg.String()
}

// summary returns the one-line form used for Slack fallback text and
// PagerDuty incident summaries.
func summary(event alert.Event) string {
	if event.Recovery {
		return fmt.Sprintf("[recovered] %s %s back to normal (%.2f)",
			event.FunctionName, event.MetricName, event.ObservedValue)
	}

	return fmt.Sprintf("[%s] %s %s at %.2f",
		event.Severity, event.FunctionName, event.MetricName, event.ObservedValue)
}
