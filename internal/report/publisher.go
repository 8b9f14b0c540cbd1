package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/ab0utbla-k/lambda-fleet-monitor/internal/report")

const eventSource = "lambda.fleet.monitor"

// EventBridgeAPI defines required EventBridge operations.
type EventBridgeAPI interface {
	PutEvents(
		ctx context.Context,
		params *eventbridge.PutEventsInput,
		optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher publishes run reports to EventBridge.
type Publisher struct {
	client       EventBridgeAPI
	eventBusName string
}

// NewPublisher creates a new EventBridge publisher.
func NewPublisher(client EventBridgeAPI, eventBusName string) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
	}
}

// Publish sends the run report to EventBridge. Degraded runs get their
// own detail type so meta-alert rules can match on it directly.
func (p *Publisher) Publish(ctx context.Context, rep *RunReport) error {
	ctx, span := tracer.Start(ctx, "report.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("eventbus.name", p.eventBusName),
		attribute.Bool("run.degraded", rep.Degraded),
	)

	detail, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("cannot marshal run report: %w", err)
	}

	detailType := "Monitoring Run Completed"
	if rep.Degraded {
		detailType = "Monitoring Run Degraded"
	}

	input := &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Detail:       aws.String(string(detail)),
			DetailType:   aws.String(detailType),
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(eventSource),
		}},
	}

	out, err := p.client.PutEvents(ctx, input)
	if err != nil {
		return fmt.Errorf("cannot put event: %w", err)
	}

	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		return fmt.Errorf("event rejected: %s - %s",
			aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}

	return nil
}
