// Package breaker guards the shared generation backend with a
// failure-counting circuit breaker.
package breaker

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// State is the breaker's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

const (
	// DefaultThreshold is the consecutive-failure count that opens the breaker.
	DefaultThreshold = 5

	// DefaultCooldown is how long the breaker stays open before probing.
	DefaultCooldown = 30 * time.Second
)

// OpenError is returned by Allow when the breaker rejects a call.
type OpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Target, e.RetryAfter)
}

// RetryAfterSeconds rounds the remaining cooldown up to whole seconds.
func (e *OpenError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Breaker is a mutex-guarded circuit breaker. One instance protects one
// backend target and is shared by every request to that target; it is never
// tenant-scoped. Construct it once at startup and inject it.
type Breaker struct {
	target    string
	threshold int
	cooldown  time.Duration

	mu             sync.Mutex
	state          State
	failures       int
	probing        bool
	lastTransition time.Time

	now func() time.Time
}

// New creates a closed breaker for the named backend target. Non-positive
// threshold or cooldown fall back to the defaults.
func New(target string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		target:    target,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns an
// *OpenError carrying the remaining cooldown; once the cooldown elapses it
// admits exactly one probe (half-open) and rejects the rest until the probe
// is resolved by RecordSuccess or RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		remaining := b.cooldown - now.Sub(b.lastTransition)
		if remaining > 0 {
			return &OpenError{Target: b.target, RetryAfter: remaining}
		}
		b.state = StateHalfOpen
		b.lastTransition = now
		b.probing = true
		return nil

	default: // StateHalfOpen
		if b.probing {
			return &OpenError{Target: b.target, RetryAfter: b.cooldown}
		}
		b.probing = true
		return nil
	}
}

// RecordSuccess resets the breaker after a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.state = StateClosed
		b.lastTransition = b.now()
	}
}

// RecordFailure counts a failed backend call. Timeouts and backend errors
// are distinct failure kinds to the caller but count identically here.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case StateHalfOpen:
		// The probe failed; re-open with a fresh cooldown.
		b.trip()
	}
}

// trip moves to OPEN. Callers hold b.mu.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.failures = 0
	b.probing = false
	b.lastTransition = b.now()
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Target returns the backend target this breaker protects.
func (b *Breaker) Target() string {
	return b.target
}
