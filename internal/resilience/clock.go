package resilience

import "time"

// Clock provides a testable time source.
//
// Production code uses RealClock; tests inject a fake so breaker cooldowns
// and retry delays can be asserted deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is a production Clock implementation backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
