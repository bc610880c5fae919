// Package agenttest provides an in-process fake Kiro workspace agent for
// exercising the channel client against real websocket traffic.
package agenttest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

// HandlerFunc produces the agent's reply to a command. Returning respond=false
// swallows the request (useful for timeout tests); the test can later reply
// manually via SendResponse.
type HandlerFunc func(req wire.CommandRequest) (resp wire.CommandResponse, respond bool)

// VerifyFunc validates the AUTH handshake. A non-nil error rejects it.
type VerifyFunc func(token, workspaceID string) error

// Agent is a fake workspace agent backed by an httptest server.
type Agent struct {
	server  *httptest.Server
	upgrade websocket.Upgrader

	mu       sync.Mutex
	verify   VerifyFunc
	handle   HandlerFunc
	conns    []*agentConn
	commands int
	auths    int
}

type agentConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *agentConn) write(env wire.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(env)
}

// New starts a fake agent. EchoHandler is installed by default: every command
// succeeds and echoes its correlation id in Data.
func New() *Agent {
	a := &Agent{
		upgrade: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		handle:  EchoHandler,
	}
	a.server = httptest.NewServer(http.HandlerFunc(a.serve))
	return a
}

// EchoHandler replies success with the correlation id as data.
func EchoHandler(req wire.CommandRequest) (wire.CommandResponse, bool) {
	return wire.CommandResponse{
		ID:              req.ID,
		Success:         true,
		Data:            "echo:" + req.ID,
		ExecutionTimeMs: 1,
	}, true
}

// URL returns the websocket URL of the agent.
func (a *Agent) URL() string {
	return "ws" + strings.TrimPrefix(a.server.URL, "http")
}

// SetVerify installs an AUTH validator.
func (a *Agent) SetVerify(fn VerifyFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verify = fn
}

// SetHandler replaces the command handler.
func (a *Agent) SetHandler(fn HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handle = fn
}

// CommandCount returns how many COMMAND frames the agent received.
func (a *Agent) CommandCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commands
}

// AuthCount returns how many handshakes the agent completed or rejected.
func (a *Agent) AuthCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auths
}

// PushEvent broadcasts a workspace event to every connected client.
func (a *Agent) PushEvent(evt wire.WorkspaceEvent) error {
	env, err := wire.NewEnvelope(wire.TypeEvent, evt)
	if err != nil {
		return err
	}
	for _, c := range a.snapshot() {
		if err := c.write(env); err != nil {
			return err
		}
	}
	return nil
}

// SendResponse writes a command response to every connected client; the
// channel client routes it by correlation id.
func (a *Agent) SendResponse(resp wire.CommandResponse) error {
	env, err := wire.NewEnvelope(wire.TypeCommandResponse, resp)
	if err != nil {
		return err
	}
	for _, c := range a.snapshot() {
		if err := c.write(env); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections severs every live connection without stopping the server,
// simulating a transport failure.
func (a *Agent) DropConnections() {
	a.mu.Lock()
	conns := a.conns
	a.conns = nil
	a.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

// Close stops the agent.
func (a *Agent) Close() {
	a.DropConnections()
	a.server.Close()
}

func (a *Agent) snapshot() []*agentConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*agentConn(nil), a.conns...)
}

func (a *Agent) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &agentConn{ws: ws}

	// Handshake first: exactly one AUTH frame is expected.
	var env wire.Envelope
	if err := ws.ReadJSON(&env); err != nil || env.Type != wire.TypeAuth {
		ws.Close()
		return
	}
	var auth wire.AuthRequest
	if err := env.DecodePayload(&auth); err != nil {
		ws.Close()
		return
	}

	a.mu.Lock()
	verify := a.verify
	a.auths++
	a.mu.Unlock()

	if verify != nil {
		if err := verify(auth.Token, auth.WorkspaceID); err != nil {
			reply, _ := wire.NewEnvelope(wire.TypeAuthFailure, wire.AuthFailure{Error: err.Error()})
			_ = conn.write(reply)
			ws.Close()
			return
		}
	}

	reply, _ := wire.NewEnvelope(wire.TypeAuthSuccess, wire.AuthSuccess{ConnectionID: uuid.NewString()})
	if err := conn.write(reply); err != nil {
		ws.Close()
		return
	}

	a.mu.Lock()
	a.conns = append(a.conns, conn)
	a.mu.Unlock()

	for {
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case wire.TypeCommand:
			var req wire.CommandRequest
			if err := env.DecodePayload(&req); err != nil {
				continue
			}
			a.mu.Lock()
			a.commands++
			handle := a.handle
			a.mu.Unlock()

			if handle == nil {
				continue
			}
			if resp, respond := handle(req); respond {
				out, _ := wire.NewEnvelope(wire.TypeCommandResponse, resp)
				_ = conn.write(out)
			}
		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, nil)
			_ = conn.write(pong)
		}
	}
}
