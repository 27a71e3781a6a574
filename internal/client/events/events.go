// Package events is an in-process push-event bus for sync and archive
// lifecycle notifications.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Type is the lifecycle stage an event reports.
type Type string

const (
	Started   Type = "started"
	Progress  Type = "progress"
	Completed Type = "completed"
	Failed    Type = "failed"
)

// Counts are the running totals carried by progress and completed events.
type Counts struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Queued     int `json:"queued"`
	Conflicts  int `json:"conflicts"`
}

// Event is one notification. Source names the emitting operation
// ("sync", "export", "import").
type Event struct {
	Source    string        `json:"source"`
	Type      Type          `json:"type"`
	At        time.Time     `json:"at"`
	Percent   int           `json:"percent,omitempty"`
	Counts    Counts        `json:"counts"`
	Duration  time.Duration `json:"duration,omitempty"`
	Code      string        `json:"code,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	Message   string        `json:"message,omitempty"`
}

func (e Event) String() string {
	switch e.Type {
	case Progress:
		return fmt.Sprintf("[%s] progress %d%% (up %d, down %d, queued %d)",
			e.Source, e.Percent, e.Counts.Uploaded, e.Counts.Downloaded, e.Counts.Queued)
	case Completed:
		return fmt.Sprintf("[%s] completed in %s (up %d, down %d)",
			e.Source, e.Duration.Round(time.Millisecond), e.Counts.Uploaded, e.Counts.Downloaded)
	case Failed:
		return fmt.Sprintf("[%s] failed: %s (retryable=%t) %s", e.Source, e.Code, e.Retryable, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Source, e.Type)
	}
}

// SubscriptionID identifies a subscriber.
type SubscriptionID uint64

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[SubscriptionID]chan Event
	counter atomic.Uint64
	dropped atomic.Uint64
	closed  bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[SubscriptionID]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) (SubscriptionID, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriptionID(b.counter.Add(1))
	if b.closed {
		close(ch)
		return id, ch
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers e to every subscriber. A nil *Bus drops events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries skipped because of full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
