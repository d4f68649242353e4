// Package pubsub fans host notifications out to any number of subscribers.
// Publishing never blocks: a subscriber that falls behind loses events.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Topic classifies a published event.
type Topic string

const (
	TopicScan      Topic = "scan"
	TopicChain     Topic = "chain"
	TopicBlacklist Topic = "blacklist"
	TopicCatalog   Topic = "catalog"
)

// Event is one published notification.
type Event[T any] struct {
	Topic     Topic     `json:"topic"`
	Payload   T         `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultBuffer = 64

// Broker delivers events to subscribers.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[chan Event[T]]struct{}
	closed  bool
	buffer  int
	dropped atomic.Int64
}

// NewBroker creates a broker whose subscriptions buffer size events each.
// A non-positive size selects the default.
func NewBroker[T any](size int) *Broker[T] {
	if size <= 0 {
		size = defaultBuffer
	}
	return &Broker[T]{subs: make(map[chan Event[T]]struct{}), buffer: size}
}

// Subscribe returns a channel that receives events until ctx ends or the broker
// closes; the channel is closed in both cases.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event[T], b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(ch)
	}()
	return ch
}

func (b *Broker[T]) unsubscribe(ch chan Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Publish sends payload to every subscriber that has room.
func (b *Broker[T]) Publish(topic Topic, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	ev := Event[T]{Topic: topic, Payload: payload, Timestamp: time.Now()}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broker[T]) Dropped() int64 { return b.dropped.Load() }

// Close ends every subscription. Further publishes are ignored.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
