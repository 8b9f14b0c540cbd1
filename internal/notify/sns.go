package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ab0utbla-k/lambda-fleet-monitor/internal/alert"
)

// SNSAPI defines required SNS operations.
type SNSAPI interface {
	Publish(
		ctx context.Context,
		input *sns.PublishInput,
		optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes alert events to an SNS topic.
type SNS struct {
	client   SNSAPI
	topicARN string
}

// NewSNS creates a new SNS channel.
func NewSNS(client SNSAPI, topicARN string) *SNS {
	return &SNS{
		client:   client,
		topicARN: topicARN,
	}
}

func (s *SNS) Name() string {
	return "sns"
}

// Send publishes the alert event to the topic.
func (s *SNS) Send(ctx context.Context, event alert.Event) error {
	ctx, span := tracer.Start(ctx, "notify.sns")
	defer span.End()
	span.SetAttributes(
		attribute.String("sns.topic_arn", s.topicARN),
		attribute.String("alert.key", event.Key()),
	)

	subject := "Lambda Alert - " + event.FunctionName
	if event.Recovery {
		subject = "Lambda Recovery - " + event.FunctionName
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(FormatText(event)),
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("cannot publish to SNS: %w", err)
	}

	return nil
}
