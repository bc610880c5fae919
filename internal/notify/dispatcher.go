package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/resilience"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// DispatcherConfig controls batching and delivery.
type DispatcherConfig struct {
	// BatchWindow is how long a recipient's first pending notification waits
	// for followers before the batch is delivered.
	BatchWindow time.Duration
	// ChunkLimit is the maximum message length before splitting.
	ChunkLimit int
	// Retry is the per-delivery retry policy.
	Retry resilience.RetryConfig
	// Breaker guards the outbound message channel.
	Breaker resilience.BreakerConfig
	// UrgentBuffer sizes the urgent delivery channel.
	UrgentBuffer int
}

// DefaultDispatcherConfig returns the delivery defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchWindow:  30 * time.Second,
		ChunkLimit:   4096,
		Retry:        resilience.DefaultRetryConfig(),
		Breaker:      resilience.DefaultBreakerConfig(),
		UrgentBuffer: 32,
	}
}

// batch accumulates notifications for one recipient within the window.
type batch struct {
	notifications []Notification
	timer         *time.Timer
}

// Dispatcher batches and delivers notifications.
//
// Every notification is written to the durable queue before anything else, so
// a crash at any later point redelivers on restart. Queue rows are removed
// only after the sender confirms delivery.
type Dispatcher struct {
	sender  Sender
	queue   *Queue
	cfg     DispatcherConfig
	breaker *resilience.Breaker

	mu      sync.Mutex
	batches map[string]*batch
	closed  bool

	urgent chan Notification
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before first use.
func NewDispatcher(sender Sender, queue *Queue, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 30 * time.Second
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = 4096
	}
	if cfg.UrgentBuffer <= 0 {
		cfg.UrgentBuffer = 32
	}
	retryIf := cfg.Retry.RetryIf
	cfg.Retry.RetryIf = func(err error) bool {
		// A tripped breaker will fail fast for the whole cooldown; retrying
		// against it is pointless.
		var open *resilience.CircuitOpenError
		if errors.As(err, &open) {
			return false
		}
		if retryIf != nil {
			return retryIf(err)
		}
		return true
	}
	return &Dispatcher{
		sender:  sender,
		queue:   queue,
		cfg:     cfg,
		breaker: resilience.NewBreaker("whatsapp", cfg.Breaker),
		batches: make(map[string]*batch),
		urgent:  make(chan Notification, cfg.UrgentBuffer),
	}
}

// Start recovers the durable queue and launches the urgent delivery worker.
func (d *Dispatcher) Start(ctx context.Context) error {
	pending, err := d.queue.Load()
	if err != nil {
		return err
	}

	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.urgentLoop(ctx)

	if len(pending) > 0 {
		logger.Infof("[notify] recovering %d queued notifications", len(pending))
	}
	for _, n := range pending {
		d.route(n)
	}
	return nil
}

// Notify queues a notification for delivery.
//
// Urgent notifications are sent immediately; everything else joins the
// recipient's current batch window.
func (d *Dispatcher) Notify(n Notification) error {
	if err := d.queue.Enqueue(n); err != nil {
		return err
	}
	d.route(n)
	return nil
}

// route hands a durably-queued notification to the urgent worker or a batch.
func (d *Dispatcher) route(n Notification) {
	if n.Priority == PriorityUrgent {
		select {
		case d.urgent <- n:
		case <-d.done:
		}
		return
	}
	d.joinBatch(n)
}

func (d *Dispatcher) joinBatch(n Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	b, ok := d.batches[n.Recipient]
	if !ok {
		b = &batch{}
		b.timer = time.AfterFunc(d.cfg.BatchWindow, func() {
			d.flush(n.Recipient)
		})
		d.batches[n.Recipient] = b
	}
	b.notifications = append(b.notifications, n)
}

// flush delivers and clears the recipient's current batch. Notifications
// arriving during delivery start a fresh batch with a fresh window.
func (d *Dispatcher) flush(recipient string) {
	d.mu.Lock()
	b, ok := d.batches[recipient]
	if ok {
		delete(d.batches, recipient)
	}
	d.mu.Unlock()
	if !ok || len(b.notifications) == 0 {
		return
	}
	d.deliver(context.Background(), recipient, b.notifications)
}

// urgentLoop sends urgent notifications one at a time, in order.
func (d *Dispatcher) urgentLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.urgent:
			d.deliver(ctx, n.Recipient, []Notification{n})
		case <-d.done:
			return
		}
	}
}

// deliver formats, chunks and sends one batch, then settles the queue rows.
//
// On failure every notification is re-queued individually through the batch
// path, so the next attempt happens one window later. The batch window plus
// the breaker's fail-fast keep the retry cycle from spinning. Durable queue
// rows survive until a send actually succeeds.
func (d *Dispatcher) deliver(ctx context.Context, recipient string, ns []Notification) {
	message := FormatBatch(ns)
	parts := resilience.Chunk(message, d.cfg.ChunkLimit)

	err := resilience.Retry(ctx, d.cfg.Retry, func(ctx context.Context) error {
		return d.breaker.Do(ctx, func(ctx context.Context) error {
			for _, part := range parts {
				if err := d.sender.Send(ctx, recipient, part); err != nil {
					return err
				}
			}
			return nil
		})
	})

	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}

	if err != nil {
		logger.Errorf("[notify] delivery to %s failed (%d notifications): %v", recipient, len(ns), err)
		if qerr := d.queue.MarkAttempt(ids); qerr != nil {
			logger.Errorf("[notify] marking attempts failed: %v", qerr)
		}
		for _, n := range ns {
			d.joinBatch(n)
		}
		return
	}

	logger.Debugf("[notify] delivered %d notifications to %s in %d parts", len(ns), recipient, len(parts))
	if qerr := d.queue.Remove(ids); qerr != nil {
		logger.Errorf("[notify] confirming delivery failed: %v", qerr)
	}
}

// Flush delivers all pending batches immediately, ignoring their windows.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	recipients := make([]string, 0, len(d.batches))
	for r, b := range d.batches {
		b.timer.Stop()
		recipients = append(recipients, r)
	}
	d.mu.Unlock()
	for _, r := range recipients {
		d.flush(r)
	}
}

// BreakerState reports the delivery circuit state.
func (d *Dispatcher) BreakerState() resilience.State {
	return d.breaker.State()
}

// Pending returns the number of notifications waiting in memory batches.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, b := range d.batches {
		n += len(b.notifications)
	}
	return n
}

// Stop flushes pending batches and shuts down the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.Flush()
	if d.done != nil {
		close(d.done)
	}
	d.wg.Wait()
}
