// Package notify delivers alert events to the configured notification
// channels.
package notify

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/notify")

// Channel delivers one alert event to a notification target.
type Channel interface {
	// Name identifies the channel in logs and run reports.
	Name() string
	// Send dispatches an alert event to the target.
	Send(ctx context.Context, event alert.Event) error
}

// Dispatcher fans one event out to every configured channel. A channel
// failure never blocks delivery to the remaining channels.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(channels []Channel, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		logger:   logger,
	}
}

// Dispatch sends the event to all channels and returns the number of
// channels that failed. Failures are logged per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, event alert.Event) int {
	ctx, span := tracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.key", event.Key()),
		attribute.String("alert.severity", string(event.Severity)),
	)

	var failed int

	for _, ch := range d.channels {
		if err := ch.Send(ctx, event); err != nil {
			failed++
			d.logger.Error("cannot deliver alert",
				slog.String("channel", ch.Name()),
				slog.String("alert", event.Key()),
				slog.Any("error", err))
		}
	}

	span.SetAttributes(attribute.Int("notify.failed", failed))

	return failed
}
