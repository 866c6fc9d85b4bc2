package memory

import (
	"context"
	"sync"

	"github.com/orcha-dev/orcha/pkg/ports"
)

type subscription struct {
	id      int
	handler ports.EventHandler
}

// Bus is an in-process event bus. Handlers run asynchronously so a slow
// subscriber never blocks the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscription
	nextID      int
	closed      bool
}

// NewBus creates an empty in-process event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]subscription),
	}
}

// Publish delivers the event to every handler subscribed to the topic.
func (b *Bus) Publish(ctx context.Context, topic string, event ports.Event) error {
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		go func(h ports.EventHandler) {
			// Handler errors are the subscriber's problem, not the publisher's.
			_ = h(ctx, event)
		}(sub.handler)
	}

	return nil
}

// Subscribe registers a handler for a topic. The subscription is removed
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(topic, id)
	}()

	return nil
}

// Unsubscribe drops every handler registered on the topic.
func (b *Bus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, topic)
	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers = make(map[string][]subscription)
	return nil
}

func (b *Bus) remove(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
