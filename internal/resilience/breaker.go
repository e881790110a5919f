package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// the cooldown has not elapsed. The guarded function is not called.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call until the cooldown elapses.
	Open

	// HalfOpen forwards probe calls to test whether the backend recovered.
	HalfOpen
)

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

// BreakerConfig tunes a [Breaker]. Zero fields take the stated defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// Trip is how many consecutive failures open the breaker. Default: 3.
	Trip int

	// Cooldown is how long the breaker stays open before it lets a probe
	// through. Default: 30s.
	Cooldown time.Duration

	// Probes is how many consecutive successes close a half-open breaker.
	// Default: 2.
	Probes int
}

// Breaker is a three-state circuit breaker: closed until Trip consecutive
// failures, then open for Cooldown, then half-open until Probes consecutive
// successes close it again. Any failure while half-open re-opens it and
// restarts the cooldown.
//
// Probe admission is not capped; the transcription drain loop makes one call
// at a time, so at most one probe is ever in flight here.
//
// Construct with [NewBreaker]. Safe for concurrent use.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	probes   int
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	wins     int
	openedAt time.Time
}

// NewBreaker creates a [Breaker], substituting defaults for zero config
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		cooldown: cfg.Cooldown,
		probes:   cfg.Probes,
		now:      time.Now,
	}
}

// Do runs fn unless the breaker is open, and feeds fn's result into the
// state machine. While open it returns [ErrBreakerOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// admit rejects calls while open, moving to half-open once the cooldown has
// elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = HalfOpen
		b.wins = 0
		slog.Info("breaker half-open, probing", "breaker", b.name)
	}
	return nil
}

// record applies the outcome of a forwarded call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil && b.state == HalfOpen:
		b.wins++
		if b.wins >= b.probes {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed", "breaker", b.name)
		}

	case err == nil:
		b.failures = 0

	case b.state == HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		slog.Warn("breaker re-opened by failed probe", "breaker", b.name, "error", err)

	default:
		b.failures++
		if b.failures >= b.trip {
			b.state = Open
			b.openedAt = b.now()
			slog.Warn("breaker opened",
				"breaker", b.name,
				"consecutive_failures", b.failures)
		}
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports [HalfOpen]; the stored state changes on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failures = 0
	b.wins = 0
}
