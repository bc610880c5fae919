package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a command is dispatched while the
	// channel is not in the Connected state. Callers decide whether to show a
	// "workspace not connected" message; no retry happens at this layer.
	ErrNotConnected = errors.New("workspace channel not connected")

	// ErrRequestTimeout is returned when no response arrives for a
	// correlation id within the request timeout.
	ErrRequestTimeout = errors.New("workspace request timed out")

	// ErrConnectionLost is used to reject every pending request when the
	// channel drops.
	ErrConnectionLost = errors.New("workspace connection lost")

	// ErrReconnectExhausted is returned when backoff reconnection gives up.
	ErrReconnectExhausted = errors.New("workspace reconnect attempts exhausted")
)

// AuthError reports an explicit authentication rejection from the agent.
//
// Auth rejections are terminal for the connection attempt: they never trigger
// backoff reconnection.
type AuthError struct {
	// Reason is the agent-supplied rejection reason.
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("workspace authentication failed: %s", e.Reason)
}
