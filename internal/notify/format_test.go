package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

func TestFormatSingle(t *testing.T) {
	n := New("15551234567", TypeBuild, PriorityMedium, "Build succeeded", "api-server (42.5s)")
	require.Equal(t, "🔨 *Build succeeded*\n\napi-server (42.5s)", FormatSingle(n))
}

func TestFormatSingleUnknownTypeFallsBackToBell(t *testing.T) {
	n := New("15551234567", Type("mystery"), PriorityLow, "Something", "happened")
	require.Equal(t, "🔔 *Something*\n\nhappened", FormatSingle(n))
}

func TestFormatBatchOfOneIsSingle(t *testing.T) {
	n := New("15551234567", TypeError, PriorityHigh, "Workspace error", "nil pointer")
	require.Equal(t, FormatSingle(n), FormatBatch([]Notification{n}))
}

func TestFormatBatchDigest(t *testing.T) {
	ns := []Notification{
		New("r", TypeBuild, PriorityMedium, "Build succeeded", "api-server"),
		New("r", TypeFileChange, PriorityLow, "Files changed", "main.go"),
		New("r", TypeSourceControl, PriorityMedium, "Source control: commit", "3 files"),
	}
	want := "🔔 *3 Workspace Updates*" +
		"\n\n1. 🔨 *Build succeeded*\n   api-server" +
		"\n\n2. 📝 *Files changed*\n   main.go" +
		"\n\n3. 🔀 *Source control: commit*\n   3 files"
	require.Equal(t, want, FormatBatch(ns))
}

func TestFromEventBuildFailure(t *testing.T) {
	payload, err := json.Marshal(wire.BuildCompletePayload{
		Success:    false,
		Target:     "api-server",
		DurationMs: 1500,
	})
	require.NoError(t, err)

	n := FromEvent("15551234567", "ws-1", wire.WorkspaceEvent{
		Type:      wire.EventBuildComplete,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	})
	require.Equal(t, TypeBuild, n.Type)
	require.Equal(t, PriorityHigh, n.Priority)
	require.Equal(t, "Build failed", n.Title)
	require.Equal(t, "api-server (1.5s)", n.Body)
	require.Equal(t, "ws-1", n.Metadata["workspaceId"])
}

func TestFromEventErrorIncludesLocation(t *testing.T) {
	payload, err := json.Marshal(wire.ErrorPayload{
		Message: "undefined symbol",
		File:    "main.go",
		Line:    42,
	})
	require.NoError(t, err)

	n := FromEvent("r", "", wire.WorkspaceEvent{Type: wire.EventError, Payload: payload})
	require.Equal(t, PriorityHigh, n.Priority)
	require.Equal(t, "undefined symbol\nmain.go:42", n.Body)
	require.Empty(t, n.Metadata)
}

func TestFromEventFileChangedSummarizesPaths(t *testing.T) {
	payload, err := json.Marshal(wire.FileChangedPayload{
		Paths: []string{"a.go", "b.go", "c.go"},
	})
	require.NoError(t, err)

	n := FromEvent("r", "ws-1", wire.WorkspaceEvent{Type: wire.EventFileChanged, Payload: payload})
	require.Equal(t, PriorityLow, n.Priority)
	require.Equal(t, "a.go and 2 more", n.Body)
}

func TestFromEventUnknownTypeIsSystem(t *testing.T) {
	n := FromEvent("r", "ws-1", wire.WorkspaceEvent{Type: "telemetry"})
	require.Equal(t, TypeSystem, n.Type)
	require.Equal(t, PriorityLow, n.Priority)
	require.Equal(t, "telemetry", n.Body)
}
