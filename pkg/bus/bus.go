// Package bus is the process-wide telemetry event bus: a bounded history of
// recent events plus an ordered set of live subscribers.
//
// One EventBus is created at startup and handed to every producer and to the
// websocket transport. Close it once on shutdown.
package bus

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sipeed/clawfeed/pkg/events"
)

type subscriber struct {
	id      SubscriptionID
	handler Handler
}

// EventBus retains the most recent events and fans each new one out to every
// subscriber in registration order.
type EventBus struct {
	mu      sync.Mutex
	history *ring
	subs    []subscriber
	closed  bool
}

// New creates a bus retaining up to capacity events. A non-positive capacity
// selects DefaultCapacity.
func New(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &EventBus{history: newRing(capacity)}
}

// Publish records event in the history and hands it to every subscriber.
// Appending and notifying happen under one lock so every subscriber observes
// publishes in the same order as the history.
func (b *EventBus) Publish(event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.history.push(event)
	for _, sub := range b.subs {
		sub.handler(event)
	}
}

// Subscribe registers handler for events published from now on. A closed bus
// returns NoSubscription.
func (b *EventBus) Subscribe(handler Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.addLocked(handler)
}

// SubscribeWithHistory captures the retained history and registers handler in
// one critical section. Every event is either in the returned snapshot or
// delivered to handler, never both and never neither. A closed bus returns
// the final history and NoSubscription.
func (b *EventBus) SubscribeWithHistory(handler Handler) ([]events.Event, SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.history.snapshot(), b.addLocked(handler)
}

func (b *EventBus) addLocked(handler Handler) SubscriptionID {
	if b.closed {
		return NoSubscription
	}
	id := SubscriptionID(uuid.NewString())
	b.subs = append(b.subs, subscriber{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription. Unknown or already removed ids are
// ignored.
func (b *EventBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = slices.Delete(b.subs, i, i+1)
			return
		}
	}
}

// RecentEvents returns a copy of the retained history, oldest first.
func (b *EventBus) RecentEvents() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.history.snapshot()
}

// Close drops all subscriptions. Later publishes are ignored.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = nil
}

// Len returns the number of retained events.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.len()
}

// Capacity returns the history bound.
func (b *EventBus) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.cap()
}

// SubscriberCount returns the number of live subscriptions (for diagnostics).
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Verify interface compliance at compile time.
var _ Publisher = (*EventBus)(nil)
