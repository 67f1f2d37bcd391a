package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Kafka writes each queue to the Kafka topic of the same name.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafka(brokersCSV string, timeout time.Duration) (*Kafka, error) {
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	// No Topic on the writer: each message names its own.
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}

	return &Kafka{writer: w, timeout: timeout}, nil
}

func (k *Kafka) Enqueue(ctx context.Context, queue, key string, body []byte) error {
	cctx := ctx
	if k.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	err := k.writer.WriteMessages(cctx, kgo.Message{
		Topic: queue,
		Key:   []byte(key),
		Value: body,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", queue, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
