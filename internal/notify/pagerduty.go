package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDuty sends alert events to the PagerDuty Events API v2. The alert
// key doubles as the dedup key, so a recovery resolves the incident its
// breach opened.
type PagerDuty struct {
	client     *http.Client
	routingKey string
	eventsURL  string
}

// NewPagerDuty creates a PagerDuty channel for the given routing key.
func NewPagerDuty(client *http.Client, routingKey string) *PagerDuty {
	return &PagerDuty{
		client:     client,
		routingKey: routingKey,
		eventsURL:  pagerDutyEventsURL,
	}
}

func (p *PagerDuty) Name() string {
	return "pagerduty"
}

type pagerDutyPayload struct {
	Summary       string         `json:"summary"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	Timestamp     string         `json:"timestamp"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

type pagerDutyEvent struct {
	RoutingKey  string            `json:"routing_key"`
	EventAction string            `json:"event_action"`
	DedupKey    string            `json:"dedup_key"`
	Payload     *pagerDutyPayload `json:"payload,omitempty"`
}

// Send enqueues a trigger event for a breach and a resolve event for a
// recovery.
func (p *PagerDuty) Send(ctx context.Context, event alert.Event) error {
	ctx, span := tracer.Start(ctx, "notify.pagerduty")
	defer span.End()

	pdEvent := pagerDutyEvent{
		RoutingKey:  p.routingKey,
		EventAction: "trigger",
		DedupKey:    event.Key(),
	}

	if event.Recovery {
		pdEvent.EventAction = "resolve"
	} else {
		pdEvent.Payload = &pagerDutyPayload{
			Summary:   summary(event),
			Source:    event.AccountID + "/" + event.FunctionName,
			Severity:  pagerDutySeverity(event.Severity),
			Timestamp: event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			CustomDetails: map[string]any{
				"metric":    event.MetricName,
				"observed":  event.ObservedValue,
				"threshold": event.ThresholdValue,
			},
		}
	}

	body, err := json.Marshal(pdEvent)
	if err != nil {
		return fmt.Errorf("cannot marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.eventsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("cannot enqueue pagerduty event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	return nil
}

func pagerDutySeverity(s alert.Severity) string {
	if s == alert.SeverityCritical {
		return "critical"
	}
	return "warning"
}
