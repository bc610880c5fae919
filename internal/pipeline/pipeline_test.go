package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/command"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/events"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/notify"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/workspace"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []command.Command
	result workspace.CommandResult
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, cmd command.Command) (workspace.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.result, f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Notify(n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) notifications() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notify.Notification, len(f.sent))
	copy(out, f.sent)
	return out
}

type auditEntry struct {
	identity string
	kind     command.Kind
	outcome  string
	detail   string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (f *fakeAudit) Record(identity string, kind command.Kind, outcome, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, auditEntry{identity, kind, outcome, detail})
}

type denyAuthorizer struct {
	reason string
}

func (d denyAuthorizer) Authorize(identity, path string) error {
	return &AuthorizationError{Reason: d.reason}
}

func TestHandleTextSuccess(t *testing.T) {
	exec := &fakeExecutor{result: workspace.CommandResult{Success: true, Data: "package main"}}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "read src/main.go")
	require.Equal(t, "📄 *src/main.go*\n\npackage main", reply)
	require.Len(t, exec.calls, 1)
	require.Equal(t, command.KindFileRead, exec.calls[0].Kind)
}

func TestHandleTextCachedResultIsMarked(t *testing.T) {
	exec := &fakeExecutor{result: workspace.CommandResult{Success: true, Data: "x", CacheHit: true}}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "read a.go")
	require.True(t, strings.HasSuffix(reply, "_(cached)_"))
}

func TestHandleTextUnknownCommandGetsHelpHint(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "frobnicate everything")
	require.True(t, strings.HasPrefix(reply, "❌ "))
	require.Contains(t, reply, "Type *help* to see available commands.")
	require.Empty(t, exec.calls)
}

func TestHandleTextHelp(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "help")
	require.Equal(t, HelpText, reply)
	require.Empty(t, exec.calls)
}

func TestHandleTextValidationFailureIsVerbatim(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "read ../../etc/passwd")
	require.True(t, strings.HasPrefix(reply, "❌ "))
	require.Contains(t, reply, "PATH_TRAVERSAL_DETECTED")
	require.Empty(t, exec.calls)
}

func TestHandleTextAuthorizationDenied(t *testing.T) {
	exec := &fakeExecutor{}
	audit := &fakeAudit{}
	p := New(exec, &fakeNotifier{},
		WithAuthorizer(denyAuthorizer{reason: "read access disabled"}),
		WithAuditSink(audit),
	)

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "read src/main.go")
	require.Equal(t, "❌ not authorized: read access disabled", reply)
	require.Empty(t, exec.calls)
	require.Equal(t, "denied", audit.entries[len(audit.entries)-1].outcome)
}

func TestHandleTextStatusSkipsAuthorization(t *testing.T) {
	exec := &fakeExecutor{result: workspace.CommandResult{Success: true, Data: "all good"}}
	p := New(exec, &fakeNotifier{}, WithAuthorizer(denyAuthorizer{reason: "nope"}))

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "status")
	require.Equal(t, "ℹ️ *Workspace Status*\n\nall good", reply)
}

func TestHandleTextChannelErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		contains string
		retry    bool
	}{
		{"not connected", workspace.ErrNotConnected, "not connected", true},
		{"timeout", workspace.ErrRequestTimeout, "too long", true},
		{"connection lost", workspace.ErrConnectionLost, "Lost connection", true},
		{"reconnect exhausted", workspace.ErrReconnectExhausted, "Could not reach", false},
		{"auth rejected", &workspace.AuthError{Reason: "bad token"}, "bad token", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExecutor{err: tc.err}
			p := New(exec, &fakeNotifier{})
			reply := p.HandleText(context.Background(), "user-1", "ws-1", "status")
			require.True(t, strings.HasPrefix(reply, "❌ "))
			require.Contains(t, reply, tc.contains)
			require.Equal(t, tc.retry, strings.Contains(reply, "may be temporary"))
		})
	}
}

func TestHandleTextCommandFailure(t *testing.T) {
	exec := &fakeExecutor{result: workspace.CommandResult{Success: false, Error: "file not found"}}
	p := New(exec, &fakeNotifier{})

	reply := p.HandleText(context.Background(), "user-1", "ws-1", "read missing.go")
	require.Equal(t, "❌ file not found", reply)
}

func TestHandleTextAuditTrail(t *testing.T) {
	exec := &fakeExecutor{result: workspace.CommandResult{Success: true, Data: "d"}}
	audit := &fakeAudit{}
	p := New(exec, &fakeNotifier{}, WithAuditSink(audit))

	p.HandleText(context.Background(), "user-1", "ws-1", "status")
	p.HandleText(context.Background(), "user-1", "ws-1", "gibberish input")

	require.Len(t, audit.entries, 2)
	require.Equal(t, auditEntry{"user-1", command.KindStatus, "ok", ""}, audit.entries[0])
	require.Equal(t, "parse_error", audit.entries[1].outcome)
}

func TestHandleEventFiltered(t *testing.T) {
	notifier := &fakeNotifier{}
	p := New(&fakeExecutor{}, notifier,
		WithNotificationFilter(filterFunc(func(recipient string, eventType wire.EventType) bool {
			return eventType != wire.EventFileChanged
		})),
	)

	p.HandleEvent("user-1", "ws-1", wire.WorkspaceEvent{Type: wire.EventFileChanged})
	require.Empty(t, notifier.notifications())

	payload, _ := json.Marshal(wire.BuildCompletePayload{Success: true, Target: "api"})
	p.HandleEvent("user-1", "ws-1", wire.WorkspaceEvent{Type: wire.EventBuildComplete, Payload: payload})

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	require.Equal(t, "user-1", sent[0].Recipient)
	require.Equal(t, notify.TypeBuild, sent[0].Type)
	require.Equal(t, "ws-1", sent[0].Metadata["workspaceId"])
}

type filterFunc func(recipient string, eventType wire.EventType) bool

func (f filterFunc) ShouldNotify(recipient string, eventType wire.EventType) bool {
	return f(recipient, eventType)
}

func TestForwardEventsDrainsSubscription(t *testing.T) {
	notifier := &fakeNotifier{}
	p := New(&fakeExecutor{}, notifier)

	throttle := events.New(events.Config{})
	defer throttle.Close()
	sub := throttle.Subscribe(8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.ForwardEvents(ctx, "user-1", "ws-1", sub)
	}()

	throttle.Publish(wire.WorkspaceEvent{Type: wire.EventError, Timestamp: time.Now().UnixMilli()})

	require.Eventually(t, func() bool {
		return len(notifier.notifications()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
