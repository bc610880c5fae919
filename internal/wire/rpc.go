// Package wire defines the JSON payloads exchanged between the backend and a
// Kiro workspace agent over the persistent workspace channel.
//
// Every frame is an Envelope; the Type field selects which payload shape the
// Payload field carries. Payloads are kept permissive on decode: unknown
// fields are ignored so older agents and newer backends can interoperate.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the payload shape carried by an Envelope.
type MessageType string

const (
	// TypeAuth is the client -> agent authentication handshake.
	TypeAuth MessageType = "AUTH"
	// TypeAuthSuccess acknowledges a successful handshake.
	TypeAuthSuccess MessageType = "AUTH_SUCCESS"
	// TypeAuthFailure rejects a handshake. Terminal for the connection attempt.
	TypeAuthFailure MessageType = "AUTH_FAILURE"
	// TypeCommand is a correlated client -> agent command request.
	TypeCommand MessageType = "COMMAND"
	// TypeCommandResponse is the agent's reply to a COMMAND with the same id.
	TypeCommandResponse MessageType = "COMMAND_RESPONSE"
	// TypeEvent is an unsolicited agent -> client workspace event.
	TypeEvent MessageType = "EVENT"
	// TypePing is a liveness probe. No payload.
	TypePing MessageType = "PING"
	// TypePong answers a PING. No payload.
	TypePong MessageType = "PONG"
)

// Envelope is the outer frame for every channel message.
type Envelope struct {
	// Type selects the payload shape.
	Type MessageType `json:"type"`
	// Payload is the type-specific body; empty for PING/PONG.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Timestamp is the sender's wall clock in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewEnvelope builds an envelope around a marshaled payload.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthRequest is the client -> agent handshake payload.
type AuthRequest struct {
	// Token is the channel auth token (EdDSA JWT minted by the backend).
	Token string `json:"token"`
	// WorkspaceID identifies the workspace the connection is scoped to.
	WorkspaceID string `json:"workspaceId"`
}

// AuthSuccess confirms the handshake.
type AuthSuccess struct {
	// ConnectionID is the agent-assigned id for this logical connection.
	ConnectionID string `json:"connectionId"`
}

// AuthFailure rejects the handshake.
//
// An AUTH_FAILURE is terminal: the client must not retry the same credentials
// with backoff reconnection.
type AuthFailure struct {
	// Error is a human-readable rejection reason.
	Error string `json:"error"`
}

// CommandRequest is a correlated command dispatched to the agent.
type CommandRequest struct {
	// ID is the correlation id pairing this request with its response.
	ID string `json:"id"`
	// Command is the operation to execute (read/list/search/status).
	Command CommandSpec `json:"command"`
}

// CommandSpec describes the operation the agent should perform.
type CommandSpec struct {
	// Kind is one of "file_read", "file_list", "search", "status".
	Kind string `json:"kind"`
	// Path is the target for file_read.
	Path string `json:"path,omitempty"`
	// Directory is the target for file_list.
	Directory string `json:"directory,omitempty"`
	// Query is the search text for search.
	Query string `json:"query,omitempty"`
	// Pattern optionally restricts search to matching file names.
	Pattern string `json:"pattern,omitempty"`
}

// CommandResponse is the agent's reply to a CommandRequest.
type CommandResponse struct {
	// ID echoes the request correlation id.
	ID string `json:"id"`
	// Success indicates whether the command executed without error.
	Success bool `json:"success"`
	// Data carries the command output when Success is true.
	Data string `json:"data,omitempty"`
	// Error carries the failure reason when Success is false.
	Error string `json:"error,omitempty"`
	// ExecutionTimeMs is the agent-side execution duration.
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}
