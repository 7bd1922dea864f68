// Package guard wraps the external service contracts with circuit breakers so
// a failing backend is rejected fast instead of stalling live conversations.
//
// The central type is [Breaker], a three-state breaker (closed → open →
// half-open). The [Transcriber], [Completer], and [Synthesizer] decorators
// apply one to the corresponding service interface; stages see [ErrOpen]
// immediately while the backend is down and surface it as a recoverable
// error frame.
//
// All types are safe for concurrent use.
package guard

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without calling the backend while the breaker is open
// and the cooldown has not yet elapsed.
var ErrOpen = errors.New("service breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed is the normal state — calls go through to the backend.
	Closed State = iota

	// Open means the backend tripped the failure threshold. Calls fail
	// immediately with [ErrOpen] until the cooldown elapses.
	Open

	// HalfOpen is the probe state after the cooldown. A limited number of
	// calls go through; success closes the breaker, failure re-opens it.
	HalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take defaults.
type Config struct {
	// Name labels the breaker in log output, e.g. "stt".
	Name string

	// Threshold is the consecutive-failure count that opens the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the call budget in the half-open state. Default: 3.
	Probes int
}

// Option configures a [Breaker] beyond its [Config].
type Option func(*Breaker)

// WithClock substitutes the time source. Tests use it to step through the
// cooldown without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	now       func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probeCalls int
	probeFails int
}

// NewBreaker creates a [Breaker] from cfg, filling zero fields with defaults.
func NewBreaker(cfg Config, opts ...Option) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	b := &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
		now:       time.Now,
		state:     Closed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn if the breaker allows it and records the outcome. In the open
// state it returns [ErrOpen] without calling fn; in the half-open state only
// the probe budget's worth of calls go through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		slog.Info("service breaker half-open", "name", b.name)

	case HalfOpen:
		if b.probeCalls >= b.probes {
			b.mu.Unlock()
			return ErrOpen
		}
	}

	probing := b.state == HalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail records a backend failure. Caller holds b.mu.
func (b *Breaker) fail(probing bool) {
	b.openedAt = b.now()

	if probing {
		b.probeFails++
		// One failed probe re-opens outright.
		b.state = Open
		b.failures = b.threshold
		slog.Warn("service breaker re-opened", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		slog.Warn("service breaker opened",
			"name", b.name,
			"consecutive_failures", b.failures)
	}
}

// succeed records a backend success. Caller holds b.mu.
func (b *Breaker) succeed(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probes {
			b.state = Closed
			b.failures = 0
			b.probeCalls = 0
			b.probeFails = 0
			slog.Info("service breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's state. An open breaker whose cooldown has
// elapsed reports [HalfOpen]; the transition itself happens on the next [Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probeCalls = 0
	b.probeFails = 0
}
