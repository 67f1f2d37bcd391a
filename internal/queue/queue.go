// Package queue hands team tasks to durable work queues.
package queue

import (
	"context"
	"sync"
)

type Enqueuer interface {
	// Enqueue appends body to the named queue. key groups related messages
	// (partition key, FIFO group).
	Enqueue(ctx context.Context, queue, key string, body []byte) error
}

type Item struct {
	Queue string
	Key   string
	Body  []byte
}

// Memory keeps enqueued items in process. It backs local runs and tests.
type Memory struct {
	mu    sync.Mutex
	items []Item
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(ctx context.Context, queue, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, Item{Queue: queue, Key: key, Body: append([]byte(nil), body...)})
	return nil
}

// Items returns a copy of what has been enqueued on queue.
func (m *Memory) Items(queue string) []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, it := range m.items {
		if it.Queue == queue {
			out = append(out, it)
		}
	}
	return out
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
