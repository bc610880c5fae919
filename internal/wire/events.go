package wire

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a workspace-originated event.
type EventType string

const (
	// EventBuildComplete reports a finished build and its outcome.
	EventBuildComplete EventType = "build_complete"
	// EventError reports a workspace error (diagnostics, task failures).
	EventError EventType = "error"
	// EventSourceControl reports a source-control operation (commit, push...).
	EventSourceControl EventType = "source_control"
	// EventFileChanged reports file modifications in the workspace.
	EventFileChanged EventType = "file_changed"
)

// KnownEventTypes lists every event type the backend understands, in the
// order they are presented in status output.
func KnownEventTypes() []EventType {
	return []EventType{EventBuildComplete, EventError, EventSourceControl, EventFileChanged}
}

// WorkspaceEvent is the EVENT payload pushed by an agent.
type WorkspaceEvent struct {
	// Type tags the payload shape.
	Type EventType `json:"type"`
	// Timestamp is the agent's wall clock in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Payload is the type-specific body.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BuildCompletePayload is the payload for EventBuildComplete.
type BuildCompletePayload struct {
	// Success indicates a passing build.
	Success bool `json:"success"`
	// Target names the built target or task.
	Target string `json:"target,omitempty"`
	// DurationMs is the build duration.
	DurationMs int64 `json:"durationMs,omitempty"`
	// Output holds trailing build output (truncated by the agent).
	Output string `json:"output,omitempty"`
}

// ErrorPayload is the payload for EventError.
type ErrorPayload struct {
	// Message is the error text.
	Message string `json:"message"`
	// File optionally locates the error.
	File string `json:"file,omitempty"`
	// Line optionally locates the error within File.
	Line int `json:"line,omitempty"`
}

// SourceControlPayload is the payload for EventSourceControl.
type SourceControlPayload struct {
	// Operation is the source-control verb (commit, push, pull, merge...).
	Operation string `json:"operation"`
	// Branch is the affected branch.
	Branch string `json:"branch,omitempty"`
	// Detail is a one-line summary (e.g. the commit subject).
	Detail string `json:"detail,omitempty"`
}

// FileChangedPayload is the payload for EventFileChanged.
type FileChangedPayload struct {
	// Paths lists the changed files.
	Paths []string `json:"paths"`
	// Change is the kind of change (created, modified, deleted).
	Change string `json:"change,omitempty"`
}

// DecodeEvent extracts a WorkspaceEvent from an EVENT envelope.
func DecodeEvent(env Envelope) (WorkspaceEvent, error) {
	if env.Type != TypeEvent {
		return WorkspaceEvent{}, fmt.Errorf("envelope is %s, not %s", env.Type, TypeEvent)
	}
	var evt WorkspaceEvent
	if err := env.DecodePayload(&evt); err != nil {
		return WorkspaceEvent{}, err
	}
	if evt.Type == "" {
		return WorkspaceEvent{}, fmt.Errorf("event payload has no type")
	}
	return evt, nil
}
