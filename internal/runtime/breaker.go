package runtime

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Call when the breaker has tripped
// and is still within its recovery window.
var ErrCircuitOpen = errors.New("runtime: circuit breaker open")

// circuitState is the breaker's three-state machine: Closed lets calls
// through and counts failures; Open rejects every call until
// RecoveryTimeout elapses; HalfOpen lets a trial run of calls through and
// promotes back to Closed after SuccessThreshold consecutive successes,
// or back to Open on the first failure.
type circuitState int

const (
	closed circuitState = iota
	open
	halfOpen
)

// BreakerConfig mirrors resilient_context.rs's CircuitBreakerConfig
// values used for its mana/dag/job breakers.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultBreakerConfig matches the 5/30s/3 values resilient_context.rs
// applies uniformly to every subsystem breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 3}
}

// Breaker guards a single subsystem (mana, dag, mesh, ...) the way
// resilient_context.rs's ResilientRuntimeContext keeps one named breaker
// per dependency rather than one global breaker for the whole node.
type Breaker struct {
	mu sync.Mutex

	name   string
	cfg    BreakerConfig
	state  circuitState
	fails  int
	oks    int
	openAt time.Time
}

// NewBreaker constructs a Breaker in the closed state.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: closed}
}

// State reports the breaker's current state as a label for health
// reporting and metrics.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case open:
		return "open"
	case halfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// allow reports whether a call may proceed, transitioning Open->HalfOpen
// once the recovery timeout has elapsed.
func (b *Breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case closed:
		return true
	case open:
		if now.Sub(b.openAt) >= b.cfg.RecoveryTimeout {
			b.state = halfOpen
			b.oks = 0
			return true
		}
		return false
	default: // halfOpen
		return true
	}
}

func (b *Breaker) recordResult(now time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		switch b.state {
		case halfOpen:
			b.oks++
			if b.oks >= b.cfg.SuccessThreshold {
				b.state = closed
				b.fails = 0
			}
		case closed:
			b.fails = 0
		}
		return
	}
	if !Recoverable(err) {
		// Permanent errors are the caller's fault, not the
		// subsystem's; they don't count toward tripping the breaker.
		return
	}
	switch b.state {
	case halfOpen:
		b.state = open
		b.openAt = now
	case closed:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.state = open
			b.openAt = now
		}
	}
}

// Call runs fn if the breaker permits it, recording the outcome.
// Permanent errors (per Recoverable) pass through without affecting the
// breaker's trip count, matching resilient_context.rs's classifier gate
// in front of its retry/breaker logic.
func Call[T any](b *Breaker, now time.Time, fn func() (T, error)) (T, error) {
	var zero T
	if !b.allow(now) {
		return zero, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	result, err := fn()
	b.recordResult(now, err)
	return result, err
}
