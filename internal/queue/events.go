// Package queue provides the SQS producer announcing applied entitlement
// changes to downstream consumers such as email and notification workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"learnloop/internal/config"
	"learnloop/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EventPublisher serializes entitlement events and sends them to the
// entitlement-events queue. The entitlement write is the source of truth;
// consumers must tolerate missing events.
type EventPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

func NewEventPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		client:   client,
		queueURL: awsCfg.EntitlementEventsQueue,
		logger:   logger,
	}
}

// PublishEntitlementEvent sends one entitlement.applied message.
func (p *EventPublisher) PublishEntitlementEvent(ctx context.Context, event types.EntitlementEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal entitlement event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String("entitlement.applied"),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send entitlement event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "entitlement event sent",
		"queue_url", p.queueURL,
		"event_id", event.EventID,
		"user_id", event.UserID,
		"plan", string(event.Plan),
		"change_type", event.ChangeType,
	)

	return nil
}
