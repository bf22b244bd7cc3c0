// Package events carries sync notifications to presentation layers and
// external consumers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Kind names an event.
type Kind string

const (
	// SyncCompleted fires after a drain synced at least one request and the
	// affected rooms were reconciled.
	SyncCompleted Kind = "sync.completed"

	// RequestRejected fires when the server permanently refused a queued request.
	RequestRejected Kind = "sync.rejected"

	// OutboxChanged fires after every durable outbox write.
	OutboxChanged Kind = "outbox.changed"
)

// Event is a notification. Fields not relevant to a kind are left empty.
type Event struct {
	Kind    Kind      `json:"kind"`
	RoomIDs []int64   `json:"roomIds,omitempty"`
	Pending int       `json:"pending"`
	Status  int       `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Bus is an in-process publisher with channel subscribers. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. Call cancel to unsubscribe and close the channel.
func (b *Bus) Subscribe(buffer int) (events <-chan Event, cancel func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}
