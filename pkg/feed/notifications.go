// Package feed keeps bounded views over notification and metrics traffic.
package feed

import (
	"context"
	"sync"

	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/HMasataka/agentws/pkg/router"
)

// DefaultCapacity is the number of notifications kept by default
const DefaultCapacity = 50

// Subscriber registers inbound handlers
type Subscriber interface {
	Subscribe(messageType domain.MessageType, handler router.HandlerFunc) domain.Disposer
}

// NotificationBuffer holds the most recent notifications, newest first
type NotificationBuffer struct {
	capacity int

	mu    sync.RWMutex
	items []domain.Notification
}

// NewNotificationBuffer creates a buffer holding at most capacity entries.
// A non-positive capacity uses DefaultCapacity.
func NewNotificationBuffer(capacity int) *NotificationBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NotificationBuffer{
		capacity: capacity,
		items:    make([]domain.Notification, 0, capacity),
	}
}

// Attach subscribes the buffer to notification frames
func (b *NotificationBuffer) Attach(s Subscriber) domain.Disposer {
	return s.Subscribe(domain.MessageTypeNotification, b.handle)
}

func (b *NotificationBuffer) handle(_ context.Context, msg *domain.Message) error {
	n, ok := msg.Payload.(domain.Notification)
	if !ok {
		return errors.New(errors.ErrorTypeProtocol, "UNEXPECTED_PAYLOAD", "unexpected notification payload")
	}
	b.Add(n)
	return nil
}

// Add prepends n, evicting the oldest entry when full
func (b *NotificationBuffer) Add(n domain.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == b.capacity {
		b.items = b.items[:b.capacity-1]
	}
	b.items = append(b.items, domain.Notification{})
	copy(b.items[1:], b.items)
	b.items[0] = n
}

// Remove drops every entry with the given id
func (b *NotificationBuffer) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.items[:0]
	for _, n := range b.items {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	clear(b.items[len(kept):])
	b.items = kept
}

// Clear empties the buffer
func (b *NotificationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.items)
	b.items = b.items[:0]
}

// List returns a copy of the entries, newest first
func (b *NotificationBuffer) List() []domain.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Notification, len(b.items))
	copy(out, b.items)
	return out
}

// Len returns the number of entries
func (b *NotificationBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}
