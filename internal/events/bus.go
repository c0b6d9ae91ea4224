// Package events provides the process-wide publish/subscribe channel that
// broadcasts scan and conversion lifecycle events to the live status
// stream.
package events

import (
	"sync"
	"time"
)

// Event types emitted on the bus.
const (
	TypeScanStart          = "scan-start"
	TypeScanProgress       = "scan-progress"
	TypeScanComplete       = "scan-complete"
	TypeConversionStart    = "conversion-start"
	TypeConversionProgress = "conversion-progress"
	TypeConversionComplete = "conversion-complete"
	TypeFileLogUpdate      = "file-log-update"
	TypeError              = "error"
)

// Event is one lifecycle notification. Timestamp is ISO-8601.
type Event struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// subscriberBuffer bounds how far a slow subscriber can fall behind
// before events are dropped for it. The stream is a live view, not a
// durable log.
const subscriberBuffer = 64

// Bus fans events out to any number of subscribers. Publish never blocks:
// a subscriber with a full buffer misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish stamps and broadcasts an event to every subscriber.
func (b *Bus) Publish(eventType string, payload map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

// SubscriberCount reports the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
