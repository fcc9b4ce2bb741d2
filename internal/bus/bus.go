// Package bus broadcasts agent messages, tagged with their session id, to
// every active run handler. Publishing never blocks: each subscriber has a
// bounded backlog and loses its oldest messages when it falls behind.
package bus

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/agent-command/bridged/internal/protocol"
)

// Event is one broadcast message. Raw preserves the original NDJSON line.
type Event struct {
	SessionID string
	Message   protocol.Message
	Raw       json.RawMessage
}

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	capacity int
	dropped  atomic.Int64
	onDrop   func()
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	bus *Bus
	ch  chan Event

	closeOnce sync.Once
}

// New creates a bus. capacity bounds each subscriber's backlog.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		subs:     make(map[*Subscription]struct{}),
		capacity: capacity,
	}
}

// SetDropHandler installs a callback invoked once per dropped event.
func (b *Bus) SetDropHandler(fn func()) {
	b.onDrop = fn
}

// Subscribe registers a new consumer starting from the next published event.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.capacity),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers an event to every subscriber. A subscriber whose backlog
// is full loses its oldest event to make room; the publisher never waits.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Backlog full: evict the oldest entry, then retry once. The second
		// send can still race another publisher; give up rather than block.
		select {
		case <-sub.ch:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Dropped returns the total number of events lost to slow consumers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Events is the subscriber's receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}
