package pipeline

import (
	"context"
	"sync"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/events"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// subscriberBuffer is the per-link event channel depth.
const subscriberBuffer = 16

// EventBridge routes workspace agent events to linked chat recipients.
//
// Each workspace gets its own throttle so one chatty workspace cannot eat
// another's rate budget. Each (workspace, recipient) link holds one throttle
// subscription drained by its own goroutine.
type EventBridge struct {
	pipeline    *Pipeline
	throttleCfg events.Config

	mu        sync.Mutex
	throttles map[string]*events.Throttle
	links     map[string]map[string]*link
	closed    bool
}

type link struct {
	sub    *events.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventBridge creates a bridge publishing through p.
func NewEventBridge(p *Pipeline, throttleCfg events.Config) *EventBridge {
	return &EventBridge{
		pipeline:    p,
		throttleCfg: throttleCfg,
		throttles:   make(map[string]*events.Throttle),
		links:       make(map[string]map[string]*link),
	}
}

// HandleAgentEvent feeds one agent event into the workspace's throttle.
// Events for workspaces nobody is linked to are dropped.
func (b *EventBridge) HandleAgentEvent(workspaceID string, evt wire.WorkspaceEvent) {
	b.mu.Lock()
	t, ok := b.throttles[workspaceID]
	b.mu.Unlock()
	if !ok {
		logger.Tracef("[bridge] dropping %s event for unlinked workspace %s", evt.Type, workspaceID)
		return
	}
	t.Publish(evt)
}

// Link subscribes recipient to workspaceID's events. Linking twice is a no-op.
func (b *EventBridge) Link(recipient, workspaceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.links[workspaceID][recipient]; ok {
		return
	}

	t, ok := b.throttles[workspaceID]
	if !ok {
		t = events.New(b.throttleCfg)
		b.throttles[workspaceID] = t
	}
	if b.links[workspaceID] == nil {
		b.links[workspaceID] = make(map[string]*link)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		sub:    t.Subscribe(subscriberBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.links[workspaceID][recipient] = l

	go func() {
		defer close(l.done)
		b.pipeline.ForwardEvents(ctx, recipient, workspaceID, l.sub)
	}()
	logger.Infof("[bridge] linked %s to workspace %s", recipient, workspaceID)
}

// Unlink removes recipient's subscription to workspaceID.
func (b *EventBridge) Unlink(recipient, workspaceID string) {
	b.mu.Lock()
	l, ok := b.links[workspaceID][recipient]
	if ok {
		delete(b.links[workspaceID], recipient)
		if len(b.links[workspaceID]) == 0 {
			delete(b.links, workspaceID)
			if t, ok := b.throttles[workspaceID]; ok {
				delete(b.throttles, workspaceID)
				t.Close()
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	l.sub.Cancel()
	l.cancel()
	<-l.done
}

// Linked reports whether recipient currently receives workspaceID's events.
func (b *EventBridge) Linked(recipient, workspaceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.links[workspaceID][recipient]
	return ok
}

// Close tears down every link and throttle.
func (b *EventBridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	links := b.links
	throttles := b.throttles
	b.links = make(map[string]map[string]*link)
	b.throttles = make(map[string]*events.Throttle)
	b.mu.Unlock()

	for _, t := range throttles {
		t.Close()
	}
	for _, recipients := range links {
		for _, l := range recipients {
			l.cancel()
			<-l.done
		}
	}
}
