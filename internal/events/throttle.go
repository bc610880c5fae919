// Package events rate-limits workspace events and fans them out to
// subscribers.
//
// The throttle is a pure rate governor: it has no knowledge of recipients and
// persists nothing. Fan-out is channel-based with a bounded buffer per
// subscriber, so a slow consumer can never block the throttle or its peers;
// events that would overflow a subscriber's buffer are dropped for that
// subscriber and logged.
package events

import (
	"sync"
	"time"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// Limit caps forwarded events of one type within a sliding window.
type Limit struct {
	// Window is the sliding interval length.
	Window time.Duration
	// MaxEvents is the number of events forwarded per window.
	MaxEvents int
}

// Config holds per-type throttle limits.
type Config map[wire.EventType]Limit

// DefaultConfig returns the per-type limits used in production.
func DefaultConfig() Config {
	return Config{
		wire.EventBuildComplete: {Window: 5 * time.Second, MaxEvents: 2},
		wire.EventError:         {Window: 10 * time.Second, MaxEvents: 5},
		wire.EventSourceControl: {Window: 3 * time.Second, MaxEvents: 3},
		wire.EventFileChanged:   {Window: 30 * time.Second, MaxEvents: 10},
	}
}

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// Subscription is one subscriber's bounded event feed.
type Subscription struct {
	// C delivers forwarded events in arrival order.
	C <-chan wire.WorkspaceEvent

	ch     chan wire.WorkspaceEvent
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// window tracks recent forwarded events for one event type.
type window struct {
	recent       []time.Time
	lastEmission time.Time
}

// Throttle bounds the forwarded rate per event type and broadcasts the
// survivors.
type Throttle struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[wire.EventType]*window
	subs    []*Subscription
	dropped int64
	closed  bool
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithNow injects a time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// New creates a throttle with the given per-type limits. Event types missing
// from cfg are forwarded unthrottled.
func New(cfg Config, opts ...Option) *Throttle {
	t := &Throttle{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[wire.EventType]*window),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe attaches a new subscriber with the given channel buffer.
// Subscribers receive events in registration order relative to each other.
func (t *Throttle) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan wire.WorkspaceEvent, buffer)
	sub := &Subscription{C: ch, ch: ch}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		sub.cancel = func() {}
		return sub
	}
	t.subs = append(t.subs, sub)
	sub.cancel = func() { t.unsubscribe(sub) }
	return sub
}

func (t *Throttle) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Publish offers an event to the throttle. It returns true when the event was
// forwarded to subscribers and false when the type's window was already full.
func (t *Throttle) Publish(evt wire.WorkspaceEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	now := t.now()
	if limit, ok := t.cfg[evt.Type]; ok {
		w := t.windows[evt.Type]
		if w == nil {
			w = &window{}
			t.windows[evt.Type] = w
		}
		w.prune(now, limit.Window)
		if len(w.recent) >= limit.MaxEvents {
			t.dropped++
			logger.Debugf("[events] throttled %s event (%d in window)", evt.Type, len(w.recent))
			return false
		}
		w.recent = append(w.recent, now)
		w.lastEmission = now
	}

	for _, sub := range t.subs {
		select {
		case sub.ch <- evt:
		default:
			logger.Warnf("[events] subscriber buffer full; dropping %s event", evt.Type)
		}
	}
	return true
}

// Dropped returns the number of events suppressed by rate limits.
func (t *Throttle) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close detaches every subscriber and closes their channels. Publish after
// Close drops everything.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, sub := range t.subs {
		close(sub.ch)
	}
	t.subs = nil
}

// prune discards window entries older than the sliding interval.
func (w *window) prune(now time.Time, interval time.Duration) {
	cutoff := now.Add(-interval)
	i := 0
	for i < len(w.recent) && !w.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.recent = append(w.recent[:0], w.recent[i:]...)
	}
}
