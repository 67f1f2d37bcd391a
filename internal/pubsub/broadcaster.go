package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 100

// Delivery is one message as seen by an in-process subscriber.
type Delivery struct {
	Topic   string
	Message Message
}

type subscriber struct {
	ch     chan Delivery
	topics map[string]bool // empty means every topic
}

// Broadcaster is the in-process Publisher. It fans each message out to the
// subscribers of its topic and drops messages for subscribers that fall
// behind rather than blocking the publisher.
type Broadcaster struct {
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]*subscriber),
	}
}

// Subscribe registers a subscriber for topics, or for all topics when none
// are given.
func (b *Broadcaster) Subscribe(topics ...string) (uint64, chan Delivery) {
	id := b.nextID.Add(1)
	sub := &subscriber{
		ch:     make(chan Delivery, subscriberBuffer),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subscribers[id] = sub
	b.mu.Unlock()

	return id, sub.ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(ctx context.Context, topic string, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d := Delivery{Topic: topic, Message: msg}
	for _, sub := range b.subscribers {
		if len(sub.topics) > 0 && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- d:
		default:
			// Skip slow subscribers
		}
	}
	return nil
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
