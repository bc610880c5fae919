package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

// stepClock is a manually advanced time source.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Unix(1700000000, 0)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func buildEvent() wire.WorkspaceEvent {
	return wire.WorkspaceEvent{Type: wire.EventBuildComplete, Timestamp: time.Now().UnixMilli()}
}

func testThrottle(clock *stepClock) *Throttle {
	cfg := Config{
		wire.EventBuildComplete: {Window: 5 * time.Second, MaxEvents: 2},
	}
	return New(cfg, WithNow(clock.Now))
}

func drain(sub *Subscription) []wire.WorkspaceEvent {
	var out []wire.WorkspaceEvent
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestThrottle_ForwardsUnderLimit(t *testing.T) {
	clock := newStepClock()
	th := testThrottle(clock)
	defer th.Close()
	sub := th.Subscribe(8)

	require.True(t, th.Publish(buildEvent()))
	clock.Advance(time.Second)
	require.True(t, th.Publish(buildEvent()))

	require.Len(t, drain(sub), 2)
}

func TestThrottle_DropsOverLimit(t *testing.T) {
	clock := newStepClock()
	th := testThrottle(clock)
	defer th.Close()
	sub := th.Subscribe(8)

	require.True(t, th.Publish(buildEvent()))
	require.True(t, th.Publish(buildEvent()))
	require.False(t, th.Publish(buildEvent()))
	require.Equal(t, int64(1), th.Dropped())

	require.Len(t, drain(sub), 2)
}

func TestThrottle_WindowSlides(t *testing.T) {
	clock := newStepClock()
	th := testThrottle(clock)
	defer th.Close()
	sub := th.Subscribe(8)

	require.True(t, th.Publish(buildEvent()))
	require.True(t, th.Publish(buildEvent()))
	require.False(t, th.Publish(buildEvent()))

	// After the window passes, capacity is restored.
	clock.Advance(6 * time.Second)
	require.True(t, th.Publish(buildEvent()))
	require.Len(t, drain(sub), 3)
}

// No more than MaxEvents are forwarded in any sliding interval of one window.
func TestThrottle_SlidingBound(t *testing.T) {
	clock := newStepClock()
	th := testThrottle(clock)
	defer th.Close()
	sub := th.Subscribe(256)

	var forwarded []time.Time
	for i := 0; i < 100; i++ {
		if th.Publish(buildEvent()) {
			forwarded = append(forwarded, clock.Now())
		}
		clock.Advance(300 * time.Millisecond)
	}

	window := 5 * time.Second
	for i := range forwarded {
		count := 0
		for j := i; j < len(forwarded); j++ {
			if forwarded[j].Sub(forwarded[i]) < window {
				count++
			}
		}
		require.LessOrEqual(t, count, 2, "interval starting at %v", forwarded[i])
	}
	require.Equal(t, len(forwarded), len(drain(sub)))
}

func TestThrottle_UnknownTypeUnthrottled(t *testing.T) {
	clock := newStepClock()
	th := testThrottle(clock)
	defer th.Close()
	sub := th.Subscribe(64)

	for i := 0; i < 20; i++ {
		require.True(t, th.Publish(wire.WorkspaceEvent{Type: wire.EventFileChanged}))
	}
	require.Len(t, drain(sub), 20)
}

func TestThrottle_FanOutOrderPerSubscriber(t *testing.T) {
	clock := newStepClock()
	cfg := Config{wire.EventError: {Window: time.Minute, MaxEvents: 100}}
	th := New(cfg, WithNow(clock.Now))
	defer th.Close()

	a := th.Subscribe(16)
	b := th.Subscribe(16)

	for i := 0; i < 5; i++ {
		evt := wire.WorkspaceEvent{Type: wire.EventError, Timestamp: int64(i)}
		require.True(t, th.Publish(evt))
	}

	for _, sub := range []*Subscription{a, b} {
		got := drain(sub)
		require.Len(t, got, 5)
		for i, evt := range got {
			require.Equal(t, int64(i), evt.Timestamp)
		}
	}
}

func TestThrottle_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	clock := newStepClock()
	cfg := Config{wire.EventError: {Window: time.Minute, MaxEvents: 100}}
	th := New(cfg, WithNow(clock.Now))
	defer th.Close()

	slow := th.Subscribe(1)
	fast := th.Subscribe(16)

	for i := 0; i < 5; i++ {
		require.True(t, th.Publish(wire.WorkspaceEvent{Type: wire.EventError, Timestamp: int64(i)}))
	}

	// The slow subscriber kept only what fit its buffer; the fast one got all.
	require.Len(t, drain(slow), 1)
	require.Len(t, drain(fast), 5)
}

func TestThrottle_CancelAndClose(t *testing.T) {
	th := testThrottle(newStepClock())
	sub := th.Subscribe(4)
	sub.Cancel()
	sub.Cancel() // idempotent

	_, ok := <-sub.C
	require.False(t, ok)

	other := th.Subscribe(4)
	th.Close()
	_, ok = <-other.C
	require.False(t, ok)

	require.False(t, th.Publish(buildEvent()))
}
