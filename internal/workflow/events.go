package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/mr1hm/go-disaster-response/internal/models"
	"github.com/mr1hm/go-disaster-response/internal/pubsub"
)

type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

type EventBridge struct {
	client  EventBridgeAPI
	busName string
}

func NewEventBridge(client EventBridgeAPI, busName string) *EventBridge {
	return &EventBridge{client: client, busName: busName}
}

func (e *EventBridge) PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}

	entry := types.PutEventsRequestEntry{
		Source:     aws.String(EventSource),
		DetailType: aws.String(EventDetailType),
		Detail:     aws.String(string(detail)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	out, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown"
		if len(out.Entries) > 0 {
			msg = aws.ToString(out.Entries[0].ErrorCode) + ": " + aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("event rejected: %s", msg)
	}
	return nil
}

// TopicEvents publishes lifecycle events as JSON messages on a pub/sub topic.
// The in-process broadcaster feeds the gRPC lifecycle stream this way.
type TopicEvents struct {
	publisher pubsub.Publisher
	topic     string
}

func NewTopicEvents(publisher pubsub.Publisher, topic string) *TopicEvents {
	return &TopicEvents{publisher: publisher, topic: topic}
}

func (t *TopicEvents) PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}
	return t.publisher.Publish(ctx, t.topic, pubsub.Message{
		Subject: EventDetailType,
		Body:    string(body),
		Attributes: map[string]string{
			"emergency_type": string(event.EmergencyType),
			"severity":       string(event.Severity),
		},
	})
}

// MultiEvents publishes to every publisher and returns the first error.
type MultiEvents []EventPublisher

func (m MultiEvents) PublishLifecycle(ctx context.Context, event models.LifecycleEvent) error {
	var first error
	for _, p := range m {
		if err := p.PublishLifecycle(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
