package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Bus fans events out to subscribers. Publishing never blocks a transition:
// a subscriber that falls behind drops events and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	dropped atomic.Uint64
	logger  *slog.Logger
}

type subscription struct {
	id string
	ch chan Event
}

// NewBus creates a bus. logger may be nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscription),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers a buffered subscriber and returns its id and channel.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{id: uuid.NewString(), ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber without blocking. A nil bus
// is valid and publishes nothing, so engines need no nil checks.
func (b *Bus) Publish(topic string, payload interface{}) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber lagging, event dropped", "subscriber", sub.id, "topic", topic)
		}
	}
}

// Dropped returns the count of events dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
