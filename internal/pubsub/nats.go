package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const subjectHeader = "Subject"

type NATSConfig struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATS publishes each message to the NATS subject named by the topic. The
// subject line and attributes ride in message headers.
type NATS struct {
	conn  msgPublisher
	close func()
}

func NewNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{conn: conn, close: conn.Close}, nil
}

func (n *NATS) Publish(ctx context.Context, topic string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := nats.NewMsg(topic)
	m.Data = []byte(msg.Body)
	if msg.Subject != "" {
		m.Header.Set(subjectHeader, msg.Subject)
	}
	for k, v := range msg.Attributes {
		m.Header.Set(k, v)
	}

	if err := n.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.close != nil {
		n.close()
	}
	return nil
}
