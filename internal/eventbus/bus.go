package eventbus

import (
	"sync"

	"github.com/rs/xid"
)

// Handler represents an event handler function
type Handler func(event *Event)

// Bus represents an event bus
type Bus interface {
	// Publish delivers an event to all subscribers on the calling goroutine
	Publish(event *Event)

	// Subscribe subscribes to events of a specific type
	Subscribe(eventType EventType, handler Handler) string

	// SubscribeAll subscribes to all events
	SubscribeAll(handler Handler) string

	// Unsubscribe removes a subscription. Unknown ids are ignored.
	Unsubscribe(id string)
}

// subscription represents a single subscription
type subscription struct {
	id        string
	eventType EventType
	handler   Handler
}

// InMemoryBus is an in-memory implementation of the event bus
type InMemoryBus struct {
	subscribers map[EventType][]*subscription
	allHandlers []*subscription
	mu          sync.RWMutex
}

// NewInMemoryBus creates a new in-memory event bus
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[EventType][]*subscription),
	}
}

// Publish implements Bus. Handlers run outside the lock, in subscription
// order, against a snapshot taken when Publish starts.
func (b *InMemoryBus) Publish(event *Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers[event.Type])+len(b.allHandlers))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.allHandlers...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
}

// Subscribe implements Bus
func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        xid.New().String(),
		eventType: eventType,
		handler:   handler,
	}

	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	return sub.id
}

// SubscribeAll implements Bus
func (b *InMemoryBus) SubscribeAll(handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      xid.New().String(),
		handler: handler,
	}

	b.allHandlers = append(b.allHandlers, sub)
	return sub.id
}

// Unsubscribe implements Bus
func (b *InMemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				b.subscribers[eventType] = remove(subs, i)
				return
			}
		}
	}

	for i, sub := range b.allHandlers {
		if sub.id == id {
			b.allHandlers = remove(b.allHandlers, i)
			return
		}
	}
}

// remove returns a new slice without index i so snapshots held by Publish stay intact
func remove(subs []*subscription, i int) []*subscription {
	out := make([]*subscription, 0, len(subs)-1)
	out = append(out, subs[:i]...)
	return append(out, subs[i+1:]...)
}
