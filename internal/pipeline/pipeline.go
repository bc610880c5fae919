// Package pipeline glues the command path and the event path together:
// text → parse → validate → authorize → workspace execute → reply, and
// workspace event → throttle → per-recipient filter → dispatcher.
//
// The pipeline owns no protocol or delivery logic of its own; it translates
// between user-facing text and the components that do the work.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/command"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/events"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/notify"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/workspace"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// Authorizer decides whether an identity may run a command against a path.
// Path is empty for commands that do not target one.
type Authorizer interface {
	Authorize(identity, path string) error
}

// AuthorizationError is the reply-friendly denial reason.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "not authorized: " + e.Reason
}

// NotificationFilter gates event-derived notifications per recipient.
type NotificationFilter interface {
	ShouldNotify(recipient string, eventType wire.EventType) bool
}

// AuditSink records command outcomes. Implementations must never block the
// caller; failures are the sink's problem.
type AuditSink interface {
	Record(identity string, commandType command.Kind, outcome, detail string)
}

// Executor dispatches a validated command to a workspace agent.
// *workspace.Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, workspaceID string, cmd command.Command) (workspace.CommandResult, error)
}

// Notifier accepts notifications for delivery. *notify.Dispatcher satisfies it.
type Notifier interface {
	Notify(n notify.Notification) error
}

// AllowAll is the default Authorizer; it permits everything.
type AllowAll struct{}

func (AllowAll) Authorize(identity, path string) error { return nil }

// NotifyAll is the default NotificationFilter; it forwards everything.
type NotifyAll struct{}

func (NotifyAll) ShouldNotify(recipient string, eventType wire.EventType) bool { return true }

// nopAudit discards records.
type nopAudit struct{}

func (nopAudit) Record(identity string, commandType command.Kind, outcome, detail string) {}

// Pipeline wires the collaborators.
type Pipeline struct {
	executor   Executor
	notifier   Notifier
	authorizer Authorizer
	filter     NotificationFilter
	audit      AuditSink
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithAuthorizer installs an access check consulted before file commands.
func WithAuthorizer(a Authorizer) Option {
	return func(p *Pipeline) { p.authorizer = a }
}

// WithNotificationFilter installs a per-recipient event filter.
func WithNotificationFilter(f NotificationFilter) Option {
	return func(p *Pipeline) { p.filter = f }
}

// WithAuditSink installs an audit recorder for command outcomes.
func WithAuditSink(s AuditSink) Option {
	return func(p *Pipeline) { p.audit = s }
}

// New creates a pipeline. Collaborators default to allow-all / notify-all /
// no-op audit.
func New(executor Executor, notifier Notifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		executor:   executor,
		notifier:   notifier,
		authorizer: AllowAll{},
		filter:     NotifyAll{},
		audit:      nopAudit{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleText processes one inbound chat message and returns the reply text.
//
// Every failure path produces a short user-facing line; HandleText never
// returns an error because there is always something to say back.
func (p *Pipeline) HandleText(ctx context.Context, identity, workspaceID, text string) string {
	cmd, perr := command.Parse(text)
	if perr != nil {
		p.audit.Record(identity, "", "parse_error", perr.Error())
		return errorReply(perr.Error()) + helpHint
	}

	if cmd.Kind == command.KindHelp {
		p.audit.Record(identity, cmd.Kind, "ok", "")
		return HelpText
	}

	if err := command.Validate(cmd); err != nil {
		p.audit.Record(identity, cmd.Kind, "validation_error", err.Error())
		return errorReply(err.Error())
	}

	if path := authTarget(cmd); path != "" || cmd.Kind == command.KindFileList {
		if err := p.authorizer.Authorize(identity, path); err != nil {
			p.audit.Record(identity, cmd.Kind, "denied", err.Error())
			return errorReply(err.Error())
		}
	}

	result, err := p.executor.Execute(ctx, workspaceID, cmd)
	if err != nil {
		p.audit.Record(identity, cmd.Kind, "channel_error", err.Error())
		return channelErrorReply(err)
	}
	if !result.Success {
		p.audit.Record(identity, cmd.Kind, "command_failed", result.Error)
		return errorReply(result.Error)
	}

	p.audit.Record(identity, cmd.Kind, "ok", "")
	return formatResult(cmd, result)
}

// HandleEvent turns one workspace event into a queued notification for the
// recipient, subject to the recipient's filter.
func (p *Pipeline) HandleEvent(recipient, workspaceID string, evt wire.WorkspaceEvent) {
	if !p.filter.ShouldNotify(recipient, evt.Type) {
		return
	}
	n := notify.FromEvent(recipient, workspaceID, evt)
	if err := p.notifier.Notify(n); err != nil {
		logger.Errorf("[pipeline] queueing notification for %s failed: %v", recipient, err)
	}
}

// ForwardEvents drains a throttle subscription into HandleEvent until the
// subscription channel closes or ctx is done.
func (p *Pipeline) ForwardEvents(ctx context.Context, recipient, workspaceID string, sub *events.Subscription) {
	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			p.HandleEvent(recipient, workspaceID, evt)
		case <-ctx.Done():
			return
		}
	}
}

// authTarget returns the filesystem target the authorizer should see.
func authTarget(cmd command.Command) string {
	switch cmd.Kind {
	case command.KindFileRead:
		return cmd.Path
	case command.KindFileList:
		return cmd.Directory
	default:
		return ""
	}
}

const (
	helpHint      = "\n\nType *help* to see available commands."
	retryableHint = "\n\n_This may be temporary — please try again._"
)

// HelpText is the reply for the help command.
const HelpText = `🤖 *Workspace Commands*

📄 *read <path>* — show a file
📁 *list [directory]* — list files
🔎 *search <query> [pattern:<glob>]* — search the workspace
ℹ️ *status* — workspace status
❓ *help* — this message`

func errorReply(message string) string {
	return "❌ " + message
}

// channelErrorReply maps workspace channel errors to user-facing text.
// Transient conditions carry a retry hint.
func channelErrorReply(err error) string {
	switch {
	case errors.Is(err, workspace.ErrNotConnected):
		return errorReply("Workspace is not connected.") + retryableHint
	case errors.Is(err, workspace.ErrRequestTimeout):
		return errorReply("The workspace took too long to respond.") + retryableHint
	case errors.Is(err, workspace.ErrConnectionLost):
		return errorReply("Lost connection to the workspace.") + retryableHint
	case errors.Is(err, workspace.ErrReconnectExhausted):
		return errorReply("Could not reach the workspace.")
	default:
		var authErr *workspace.AuthError
		if errors.As(err, &authErr) {
			return errorReply("Workspace rejected the connection: " + authErr.Reason)
		}
		return errorReply(err.Error())
	}
}

// formatResult renders a successful command result as reply text.
func formatResult(cmd command.Command, result workspace.CommandResult) string {
	header := resultHeader(cmd)
	body := result.Data
	if body == "" {
		body = "(empty)"
	}
	reply := fmt.Sprintf("%s\n\n%s", header, body)
	if result.CacheHit {
		reply += "\n\n_(cached)_"
	}
	return reply
}

func resultHeader(cmd command.Command) string {
	switch cmd.Kind {
	case command.KindFileRead:
		return "📄 *" + cmd.Path + "*"
	case command.KindFileList:
		return "📁 *" + cmd.Directory + "*"
	case command.KindSearch:
		return "🔎 *Results for \"" + cmd.Query + "\"*"
	case command.KindStatus:
		return "ℹ️ *Workspace Status*"
	default:
		return "🤖"
	}
}
