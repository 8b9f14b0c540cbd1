package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

func newEvent() alert.Event {
	return alert.Event{
		FunctionName:   "payments-api",
		AccountID:      "111122223333",
		MetricName:     "error_rate",
		Severity:       alert.SeverityCritical,
		ObservedValue:  12.5,
		ThresholdValue: 10,
		Timestamp:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

type stubChannel struct {
	name  string
	err   error
	calls int
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(_ context.Context, _ alert.Event) error {
	c.calls++
	return c.err
}

func TestDispatch_FanOut(t *testing.T) {
	a := &stubChannel{name: "a"}
	b := &stubChannel{name: "b"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := NewDispatcher([]Channel{a, b}, logger)

	failed := d.Dispatch(context.Background(), newEvent())
	assert.Equal(t, 0, failed)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestDispatch_ChannelFailureIsIndependent(t *testing.T) {
	a := &stubChannel{name: "a", err: errors.New("boom")}
	b := &stubChannel{name: "b"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	d := NewDispatcher([]Channel{a, b}, logger)

	failed := d.Dispatch(context.Background(), newEvent())
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, b.calls)
}

func TestSlack_Send(t *testing.T) {
	var received slackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewSlack(server.Client(), server.URL)

	err := s.Send(context.Background(), newEvent())
	require.NoError(t, err)

	assert.Contains(t, received.Text, "payments-api")
	assert.Contains(t, received.Text, "critical")
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "danger", received.Attachments[0].Color)
	assert.Contains(t, received.Attachments[0].Text, "error_rate")
}

func TestSlack_RetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewSlack(server.Client(), server.URL)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	err := s.Send(context.Background(), newEvent())
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSlack_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := NewSlack(server.Client(), server.URL)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	err := s.Send(context.Background(), newEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSlack_CancelledContextStopsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewSlack(server.Client(), server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	err := s.Send(ctx, newEvent())

	// Cancellation interrupts the one-second backoff wait instead of
	// letting it run out.
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSlack_RecoveryColor(t *testing.T) {
	var received slackMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewSlack(server.Client(), server.URL)

	event := newEvent()
	event.Severity = alert.SeverityNormal
	event.Recovery = true

	require.NoError(t, s.Send(context.Background(), event))
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "good", received.Attachments[0].Color)
	assert.Contains(t, received.Text, "recovered")
}

func TestPagerDuty_TriggerCarriesDedupKey(t *testing.T) {
	var received pagerDutyEvent

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := NewPagerDuty(server.Client(), "routing-key")
	p.eventsURL = server.URL

	event := newEvent()
	require.NoError(t, p.Send(context.Background(), event))

	assert.Equal(t, "routing-key", received.RoutingKey)
	assert.Equal(t, "trigger", received.EventAction)
	assert.Equal(t, event.Key(), received.DedupKey)
	require.NotNil(t, received.Payload)
	assert.Equal(t, "critical", received.Payload.Severity)
	assert.Equal(t, "111122223333/payments-api", received.Payload.Source)
}

func TestPagerDuty_RecoveryResolves(t *testing.T) {
	var received pagerDutyEvent

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := NewPagerDuty(server.Client(), "routing-key")
	p.eventsURL = server.URL

	event := newEvent()
	event.Severity = alert.SeverityNormal
	event.Recovery = true

	require.NoError(t, p.Send(context.Background(), event))

	assert.Equal(t, "resolve", received.EventAction)
	assert.Equal(t, event.Key(), received.DedupKey)
	assert.Nil(t, received.Payload)
}

func TestPagerDuty_RejectedEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"status":"invalid event"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	p := NewPagerDuty(server.Client(), "routing-key")
	p.eventsURL = server.URL

	err := p.Send(context.Background(), newEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSNS_Send(t *testing.T) {
	mockSNS := new(SNSAPIMock)
	topicARN := "arn:aws:sns:eu-west-1:111122223333:alerts"

	mockSNS.On("Publish",
		mock.MatchedBy(func(ctx context.Context) bool { return ctx != nil }),
		mock.MatchedBy(func(input *sns.PublishInput) bool {
			return aws.ToString(input.TopicArn) == topicARN &&
				aws.ToString(input.Subject) == "Lambda Alert - payments-api"
		}),
		mock.AnythingOfType("[]func(*sns.Options)"),
	).Return(&sns.PublishOutput{MessageId: aws.String("msg-1")}, nil).Once()

	s := NewSNS(mockSNS, topicARN)

	err := s.Send(context.Background(), newEvent())
	require.NoError(t, err)
	mockSNS.AssertExpectations(t)
}

func TestFormatText_ThresholdDirection(t *testing.T) {
	event := newEvent()
	msg := FormatText(event)
	assert.Contains(t, msg, "threshold >= 10.00")

	event.MetricName = "health_score"
	event.ObservedValue = 42
	event.ThresholdValue = 50
	msg = FormatText(event)
	assert.Contains(t, msg, "threshold <= 50.00")
}
