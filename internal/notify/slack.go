package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

const slackMaxAttempts = 3

// Slack posts alert messages to an incoming-webhook URL.
type Slack struct {
	client     *http.Client
	webhookURL string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlack creates a Slack channel for the given webhook URL.
func NewSlack(client *http.Client, webhookURL string) *Slack {
	return &Slack{
		client:     client,
		webhookURL: webhookURL,
		sleep:      sleepBackoff,
	}
}

// sleepBackoff waits for the backoff interval or until the context is
// cancelled, whichever comes first.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Slack) Name() string {
	return "slack"
}

type slackAttachment struct {
	Color string `json:"color"`
	Text  string `json:"text"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

// Send posts the event to the webhook. Transient failures are retried
// with exponential backoff; a non-2xx response after the final attempt
// fails the delivery.
func (s *Slack) Send(ctx context.Context, event alert.Event) error {
	ctx, span := tracer.Start(ctx, "notify.slack")
	defer span.End()

	body, err := json.Marshal(slackMessage{
		Text: summary(event),
		Attachments: []slackAttachment{{
			Color: slackColor(event),
			Text:  FormatText(event),
		}},
	})
	if err != nil {
		return fmt.Errorf("cannot marshal slack message: %w", err)
	}

	backoff := time.Second

	for attempt := 1; ; attempt++ {
		err = s.post(ctx, body)
		if err == nil {
			return nil
		}

		if attempt == slackMaxAttempts {
			return fmt.Errorf("cannot post to slack after %d attempts: %w", attempt, err)
		}

		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (s *Slack) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cannot create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, payload)
	}

	return nil
}

func slackColor(event alert.Event) string {
	if event.Recovery {
		return "good"
	}

	switch event.Severity {
	case alert.SeverityCritical:
		return "danger"
	case alert.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
