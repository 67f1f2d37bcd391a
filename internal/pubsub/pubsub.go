// Package pubsub delivers alert messages to named topics.
package pubsub

import "context"

// Message is a topic message. Attributes travel as transport metadata
// (SNS message attributes, NATS headers).
type Message struct {
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) error
}
