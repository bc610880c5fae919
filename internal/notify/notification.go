// Package notify queues, batches and delivers user notifications derived
// from workspace events or direct calls.
//
// Non-urgent notifications for one recipient are accumulated in a batch for a
// fixed window and delivered as one message; urgent ones bypass batching. The
// queue is durable: a crash between enqueue and delivery confirmation causes
// redelivery, never loss (at-least-once).
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

// Priority orders notification urgency.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	// PriorityUrgent bypasses batching and is delivered immediately.
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Type categorizes a notification and selects its icon.
type Type string

const (
	TypeBuild         Type = "build"
	TypeError         Type = "error"
	TypeSourceControl Type = "source_control"
	TypeFileChange    Type = "file_change"
	TypeSystem        Type = "system"
)

// Notification is one message-to-be for a recipient.
type Notification struct {
	// ID is a ULID; ids sort by creation time.
	ID string
	// Recipient is the chat identity the message is addressed to.
	Recipient string
	Type      Type
	Priority  Priority
	Title     string
	Body      string
	Timestamp time.Time
	// Metadata carries optional context (workspace id, file names...).
	Metadata map[string]string
}

// New creates a notification with a fresh ULID and timestamp.
func New(recipient string, typ Type, priority Priority, title, body string) Notification {
	return Notification{
		ID:        ulid.Make().String(),
		Recipient: recipient,
		Type:      typ,
		Priority:  priority,
		Title:     title,
		Body:      body,
		Timestamp: time.Now(),
	}
}

// FromEvent derives a notification from a workspace event.
//
// Build failures and errors are High priority, successful builds and
// source-control activity Medium, file changes Low.
func FromEvent(recipient, workspaceID string, evt wire.WorkspaceEvent) Notification {
	var (
		typ      Type
		priority Priority
		title    string
		body     string
	)

	switch evt.Type {
	case wire.EventBuildComplete:
		var p wire.BuildCompletePayload
		_ = json.Unmarshal(evt.Payload, &p)
		typ = TypeBuild
		if p.Success {
			priority = PriorityMedium
			title = "Build succeeded"
		} else {
			priority = PriorityHigh
			title = "Build failed"
		}
		body = p.Target
		if body == "" {
			body = "workspace build"
		}
		if p.DurationMs > 0 {
			body = fmt.Sprintf("%s (%.1fs)", body, float64(p.DurationMs)/1000)
		}

	case wire.EventError:
		var p wire.ErrorPayload
		_ = json.Unmarshal(evt.Payload, &p)
		typ = TypeError
		priority = PriorityHigh
		title = "Workspace error"
		body = p.Message
		if p.File != "" {
			body = fmt.Sprintf("%s\n%s:%d", body, p.File, p.Line)
		}

	case wire.EventSourceControl:
		var p wire.SourceControlPayload
		_ = json.Unmarshal(evt.Payload, &p)
		typ = TypeSourceControl
		priority = PriorityMedium
		title = "Source control: " + p.Operation
		body = p.Detail
		if p.Branch != "" {
			body = fmt.Sprintf("%s\non %s", body, p.Branch)
		}

	case wire.EventFileChanged:
		var p wire.FileChangedPayload
		_ = json.Unmarshal(evt.Payload, &p)
		typ = TypeFileChange
		priority = PriorityLow
		title = "Files changed"
		switch len(p.Paths) {
		case 0:
			body = "workspace files changed"
		case 1:
			body = p.Paths[0]
		default:
			body = fmt.Sprintf("%s and %d more", p.Paths[0], len(p.Paths)-1)
		}

	default:
		typ = TypeSystem
		priority = PriorityLow
		title = "Workspace event"
		body = string(evt.Type)
	}

	n := New(recipient, typ, priority, title, body)
	if workspaceID != "" {
		n.Metadata = map[string]string{"workspaceId": workspaceID}
	}
	return n
}
