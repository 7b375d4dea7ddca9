package journal

import (
	"context"
	"sync"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"` // e.g., "info", "error", "depth", "volume"
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// Broker fans events out to subscribers and keeps the most recent ones
// so late subscribers can catch up.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	recent      []Event
	limit       int
}

func NewBroker(limit int) *Broker {
	if limit <= 0 {
		limit = 200
	}
	return &Broker{
		subscribers: make(map[chan Event]struct{}),
		recent:      make([]Event, 0, limit),
		limit:       limit,
	}
}

// Publish records the event and delivers it to every subscriber.
// Slow subscribers miss events instead of blocking the publisher.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.recent) == b.limit {
		copy(b.recent, b.recent[1:])
		b.recent = b.recent[:b.limit-1]
	}
	b.recent = append(b.recent, e)

	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broker) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		if sub == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Recent returns a copy of the retained events, oldest first.
func (b *Broker) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.recent))
	copy(out, b.recent)
	return out
}
