package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	kgo "github.com/segmentio/kafka-go"
)

func TestMemory_Enqueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	body := []byte(`{"team_id":"t1"}`)
	m.Enqueue(ctx, "tasks", "em-1", body)
	m.Enqueue(ctx, "other", "em-1", []byte("x"))
	body[0] = 'X'

	items := m.Items("tasks")
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if string(items[0].Body) != `{"team_id":"t1"}` {
		t.Errorf("body should be copied, got %s", items[0].Body)
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 total, got %d", m.Len())
	}
}

func TestMemory_EnqueueCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemory().Enqueue(ctx, "tasks", "k", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type mockWriter struct {
	msgs []kgo.Message
	err  error
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *mockWriter) Close() error { return nil }

func TestKafka_Enqueue(t *testing.T) {
	w := &mockWriter{}
	k := &Kafka{writer: w}

	if err := k.Enqueue(context.Background(), "response-tasks", "em-7", []byte("{}")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if w.msgs[0].Topic != "response-tasks" || string(w.msgs[0].Key) != "em-7" {
		t.Errorf("unexpected message: %+v", w.msgs[0])
	}
}

func TestNewKafka_RequiresBrokers(t *testing.T) {
	if _, err := NewKafka(" , ", 0); err == nil {
		t.Error("expected error for empty broker list")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV("a:9092, b:9092,,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("unexpected split: %v", got)
	}
}

type mockSQS struct {
	in *sqs.SendMessageInput
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.in = in
	return &sqs.SendMessageOutput{}, nil
}

func TestSQS_Enqueue(t *testing.T) {
	client := &mockSQS{}
	q := NewSQS(client)

	q.Enqueue(context.Background(), "https://sqs.us-east-1.amazonaws.com/123/tasks", "em-1", []byte("body"))
	if client.in.MessageGroupId != nil {
		t.Error("standard queue should not carry a message group")
	}

	q.Enqueue(context.Background(), "https://sqs.us-east-1.amazonaws.com/123/tasks.fifo", "em-1", []byte("body"))
	if aws.ToString(client.in.MessageGroupId) != "em-1" {
		t.Errorf("expected group em-1, got %s", aws.ToString(client.in.MessageGroupId))
	}
	if aws.ToString(client.in.MessageDeduplicationId) == "" {
		t.Error("expected deduplication id on fifo queue")
	}
}

func TestSQS_FIFODeduplicationFollowsBody(t *testing.T) {
	client := &mockSQS{}
	q := NewSQS(client)
	ctx := context.Background()
	url := "https://sqs.us-east-1.amazonaws.com/123/tasks.fifo"

	q.Enqueue(ctx, url, "em-1", []byte(`{"task_id":"a","team_id":"t-1"}`))
	first := aws.ToString(client.in.MessageDeduplicationId)
	q.Enqueue(ctx, url, "em-1", []byte(`{"task_id":"b","team_id":"t-1"}`))
	second := aws.ToString(client.in.MessageDeduplicationId)
	q.Enqueue(ctx, url, "em-1", []byte(`{"task_id":"a","team_id":"t-1"}`))
	retry := aws.ToString(client.in.MessageDeduplicationId)

	if first == second {
		t.Error("distinct tasks for one team must not share a deduplication id")
	}
	if first != retry {
		t.Error("a resend of the same task must keep its deduplication id")
	}
}
