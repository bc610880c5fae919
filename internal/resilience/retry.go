// Package resilience provides the generic retry and circuit-breaker wrappers
// used around all outbound delivery calls, plus the payload chunker applied
// before either wrapper sees a message.
//
// The two primitives are independent and composable: callers typically wrap a
// send in a Breaker and wrap the breaker's permitted call in Retry.
package resilience

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig controls Retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// RetryIf, when non-nil, gates which errors are retried. A non-retryable
	// error short-circuits immediately and is returned as-is.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the delivery retry policy defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// ExhaustedError reports that every retry attempt failed.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Last is the error from the final attempt.
	Last error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retry invokes op up to cfg.MaxAttempts times with exponential backoff.
//
// The delay before attempt n (1-indexed) is
// min(InitialDelay × Multiplier^(n-2), MaxDelay). Context cancellation aborts
// the backoff sleep and returns ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, backoffDelay(cfg, attempt)); err != nil {
				return err
			}
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(last) {
			return last
		}
	}
	return &ExhaustedError{Attempts: cfg.MaxAttempts, Last: last}
}

// backoffDelay computes the sleep before the given attempt (attempt >= 2).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-2)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
