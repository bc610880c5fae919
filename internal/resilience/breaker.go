package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed allows calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen fails calls fast until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows trial calls; successes close the circuit, any
	// failure reopens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CircuitOpenError is returned when a call is short-circuited.
type CircuitOpenError struct {
	// Resource names the guarded resource.
	Resource string
	// RetryAfter is the remaining cooldown.
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open (retry in %s)", e.Resource, e.RetryAfter.Round(time.Millisecond))
}

// BreakerConfig controls circuit breaker transitions.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive CLOSED-state failures
	// that opens the circuit.
	FailureThreshold int
	// Timeout is the OPEN-state cooldown before a trial call is allowed.
	Timeout time.Duration
	// SuccessThreshold is the number of consecutive HALF_OPEN successes that
	// closes the circuit again.
	SuccessThreshold int
	// ResetTimeout clears the CLOSED-state failure counter after a period of
	// inactivity.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the outbound delivery breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 2,
		ResetTimeout:     2 * time.Minute,
	}
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State               State
	ConsecutiveFailures int
	HalfOpenSuccesses   int
	TotalRequests       int64
	TotalFailures       int64
}

// Breaker guards one named resource.
//
// The state machine is the sole authority on whether a call is attempted:
// CLOSED → OPEN after FailureThreshold consecutive failures, OPEN → HALF_OPEN
// once the cooldown elapses and a call arrives, HALF_OPEN → CLOSED after
// SuccessThreshold consecutive successes, HALF_OPEN → OPEN (cooldown
// restarted) on any single failure.
type Breaker struct {
	resource string
	cfg      BreakerConfig
	clock    Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	openedAt            time.Time
	lastFailureAt       time.Time
	totalRequests       int64
	totalFailures       int64
}

// NewBreaker creates a breaker for the named resource.
func NewBreaker(resource string, cfg BreakerConfig) *Breaker {
	return NewBreakerWithClock(resource, cfg, RealClock{})
}

// NewBreakerWithClock creates a breaker with an injected time source.
func NewBreakerWithClock(resource string, cfg BreakerConfig, clock Clock) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{resource: resource, cfg: cfg, clock: clock, state: StateClosed}
}

// Do runs op under the breaker's supervision.
//
// While OPEN and before the cooldown elapses, Do returns *CircuitOpenError
// without invoking op.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := op(ctx)
	b.after(err)
	return err
}

// before admits or rejects a call and applies OPEN → HALF_OPEN.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.totalRequests++

	switch b.state {
	case StateOpen:
		remaining := b.cfg.Timeout - now.Sub(b.openedAt)
		if remaining > 0 {
			return &CircuitOpenError{Resource: b.resource, RetryAfter: remaining}
		}
		b.state = StateHalfOpen
		b.halfOpenSuccesses = 0
	case StateClosed:
		// Failure streaks go stale after a quiet period.
		if b.cfg.ResetTimeout > 0 && b.consecutiveFailures > 0 &&
			now.Sub(b.lastFailureAt) >= b.cfg.ResetTimeout {
			b.consecutiveFailures = 0
		}
	}
	return nil
}

// after records the call outcome and applies the remaining transitions.
func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if err == nil {
		switch b.state {
		case StateHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
				b.state = StateClosed
				b.consecutiveFailures = 0
				b.halfOpenSuccesses = 0
			}
		case StateClosed:
			b.consecutiveFailures = 0
		}
		return
	}

	b.totalFailures++
	b.lastFailureAt = now
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenSuccesses = 0
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns a snapshot of the breaker counters.
func (b *Breaker) Counts() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		TotalRequests:       b.totalRequests,
		TotalFailures:       b.totalFailures,
	}
}
