package app

import (
	"sync"

	"github.com/dkeye/Duet/internal/domain"
)

// Event is one item on the UI event stream: either a status transition or a
// transient notification.
type Event struct {
	Status       *domain.Status       `json:"status,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

// EventBus fans events out to subscribers (one per open SSE connection).
// Slow subscribers drop events instead of blocking the publisher.
type EventBus struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}
