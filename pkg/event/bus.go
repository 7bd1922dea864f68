// Package event provides the session event bus: ordered, at-most-once
// delivery of named session events to collaborators outside the frame chain.
//
// Transports publish connection events, tasks publish speech events, and
// anything interested subscribes without becoming a pipeline processor.
// Delivery per subscriber preserves publish order; a subscriber that falls
// behind its buffer loses events rather than blocking the publisher.
package event

import (
	"sync"
	"time"
)

// Kind names a session event.
type Kind string

// The event kinds published by the core and the bundled transports.
const (
	ClientConnected    Kind = "client-connected"
	ClientDisconnected Kind = "client-disconnected"
	SpeechStarted      Kind = "speech-started"
	SpeechEnded        Kind = "speech-ended"
)

// Event is one named session event.
type Event struct {
	// Kind names the event.
	Kind Kind

	// SessionID identifies the session the event belongs to.
	SessionID string

	// At is the event's origin timestamp, set by [Bus.Publish] when zero.
	At time.Time
}

// defaultBuffer is the per-subscriber channel depth.
const defaultBuffer = 16

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[Kind][]*Subscription
	buffer int
	closed bool
}

// Option configures a [Bus].
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel depth. Default is 16.
func WithBuffer(n int) Option {
	return func(b *Bus) { b.buffer = n }
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[Kind][]*Subscription),
		buffer: defaultBuffer,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is one subscriber's view of a single event kind.
type Subscription struct {
	// C delivers events in publish order. It is closed by [Subscription.Cancel]
	// and by [Bus.Close].
	C <-chan Event

	bus  *Bus
	kind Kind
	ch   chan Event
	once sync.Once
}

// Cancel removes the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers interest in one event kind. The returned subscription
// receives every event of that kind published after this call, in order,
// until either side falls behind the buffer or the subscription is cancelled.
func (b *Bus) Subscribe(kind Kind) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, bus: b, kind: kind, ch: ch}
	if b.closed {
		// Closed bus: hand back an already-closed subscription.
		close(ch)
		return sub
	}
	b.subs[kind] = append(b.subs[kind], sub)
	return sub
}

// Publish delivers e to every current subscriber of e.Kind. Delivery is
// at-most-once: a subscriber whose buffer is full misses this event.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[e.Kind] {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	all := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	list := b.subs[s.kind]
	for i, sub := range list {
		if sub == s {
			b.subs[s.kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
}
