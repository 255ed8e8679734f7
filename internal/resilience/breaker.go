package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current disposition.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the number of failures that trips the breaker
	// open. Successes do not reset the count while closed.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// single probe call through.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker tracks failures across all calls sharing this instance.
// One instance is wired per process; state is never persisted, so a restart
// resets it to closed.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	lastFailure  time.Time
	probeGranted bool
}

// NewBreaker creates a closed breaker. A zero-value config is replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}

	return &Breaker{
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Allow reports whether a call may proceed. While open, calls are rejected
// until ResetTimeout has elapsed since the last failure; the first call after
// that becomes the half-open probe and exactly one probe is let through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
			b.state = StateHalfOpen
			b.probeGranted = true
			return true
		}
		return false
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	}
	return false
}

// RecordSuccess notes a successful call. A half-open probe success closes the
// breaker and resets counters; in closed state it only bumps the success
// counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		b.probeGranted = false
	case StateClosed:
		b.successes++
	}
}

// RecordFailure notes a failed call. Reaching the threshold in closed state,
// or any half-open probe failure, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.probeGranted = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the accumulated failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
