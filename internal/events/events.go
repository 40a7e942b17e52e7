// Package events fans out lifecycle transitions to interested clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what changed.
type Kind string

const (
	KindExecution Kind = "execution"
	KindRuntime   Kind = "runtime"
)

// Event is one observed transition of an execution or a runtime.
type Event struct {
	Kind        Kind      `json:"kind"`
	RuntimeID   string    `json:"runtime_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus is a non-blocking in-process broadcaster. A subscriber that cannot keep up
// loses events instead of stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Int64
}

type subscription struct {
	ch        chan Event
	runtimeID string
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
	}
}

// Subscribe registers a listener. An empty runtimeID receives every event.
// The returned cancel func closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(runtimeID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan Event, b.buffer), runtimeID: runtimeID}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers ev to every matching subscriber that has room.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.runtimeID != "" && sub.runtimeID != ev.RuntimeID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
