// Package workspace maintains the persistent channel to a Kiro workspace
// agent and executes chat commands against it.
//
// One Conn exists per workspace. Requests are correlated by generated UUIDs,
// responses may arrive in any order, and a short-lived result cache serves
// repeat read/list/status commands without touching the channel. Retry of
// failed sends is the caller's concern (see internal/resilience); this layer
// reports channel errors as-is.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/command"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds channel timing parameters.
type Config struct {
	// RequestTimeout bounds the wait for a command response.
	RequestTimeout time.Duration
	// AuthTimeout bounds the AUTH handshake after dialing.
	AuthTimeout time.Duration
	// ReconnectBase is the first reconnect delay; it doubles per attempt.
	ReconnectBase time.Duration
	// MaxReconnectAttempts caps backoff reconnection before giving up.
	MaxReconnectAttempts int
	// PingInterval spaces liveness probes. Zero disables pings.
	PingInterval time.Duration
}

// DefaultConfig returns the production channel timings.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:       10 * time.Second,
		AuthTimeout:          10 * time.Second,
		ReconnectBase:        time.Second,
		MaxReconnectAttempts: 5,
		PingInterval:         30 * time.Second,
	}
}

// CommandResult is the outcome of executing one command.
type CommandResult struct {
	// Success indicates the agent executed the command without error.
	Success bool
	// Data is the command output when Success is true.
	Data string
	// Error is the agent-side failure reason when Success is false.
	Error string
	// ExecutionTimeMs is the agent-side execution duration.
	ExecutionTimeMs int64
	// CacheHit marks results served from the result cache.
	CacheHit bool
}

// TokenFunc supplies the auth token presented at connect time.
type TokenFunc func() (string, error)

// EventFunc receives unsolicited workspace events from the agent.
type EventFunc func(wire.WorkspaceEvent)

// Conn is one logical link to a workspace agent.
type Conn struct {
	workspaceID string
	url         string
	token       TokenFunc
	cfg         Config
	cache       *ResultCache
	onEvent     EventFunc
	dialer      *websocket.Dialer

	mu               sync.Mutex
	state            State
	ws               *websocket.Conn
	connectionID     string
	reconnectAttempt int
	generation       int
	manual           bool

	writeMu sync.Mutex
	pending *pendingTable

	done      chan struct{}
	closeOnce sync.Once
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithCache attaches a result cache.
func WithCache(cache *ResultCache) ConnOption {
	return func(c *Conn) { c.cache = cache }
}

// WithEventHandler sets the callback for unsolicited agent events.
func WithEventHandler(fn EventFunc) ConnOption {
	return func(c *Conn) { c.onEvent = fn }
}

// WithDialer replaces the websocket dialer, for tests.
func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *Conn) { c.dialer = d }
}

// NewConn creates a connection for one workspace. Connect must be called
// before commands can be executed.
func NewConn(workspaceID, url string, token TokenFunc, cfg Config, opts ...ConnOption) *Conn {
	c := &Conn{
		workspaceID: workspaceID,
		url:         url,
		token:       token,
		cfg:         cfg,
		dialer:      websocket.DefaultDialer,
		pending:     newPendingTable(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkspaceID returns the workspace this connection is scoped to.
func (c *Conn) WorkspaceID() string { return c.workspaceID }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectionID returns the agent-assigned id for the current link, if any.
func (c *Conn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// PendingCount returns the number of in-flight requests.
func (c *Conn) PendingCount() int { return c.pending.size() }

// Connect dials the agent and completes the AUTH handshake.
//
// An agent-side auth rejection is terminal: the connection moves to Failed
// and no backoff reconnection is attempted.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.manual = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.state = StateFailed
		} else {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// dial establishes the transport, authenticates, and starts the read and
// ping loops on success.
func (c *Conn) dial(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial workspace agent: %w", err)
	}

	token, err := c.token()
	if err != nil {
		ws.Close()
		return fmt.Errorf("obtain channel token: %w", err)
	}

	env, err := wire.NewEnvelope(wire.TypeAuth, wire.AuthRequest{
		Token:       token,
		WorkspaceID: c.workspaceID,
	})
	if err != nil {
		ws.Close()
		return err
	}
	if err := ws.WriteJSON(env); err != nil {
		ws.Close()
		return fmt.Errorf("send auth: %w", err)
	}

	// The handshake must complete within the auth window or the connection
	// is abandoned.
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout))
	var reply wire.Envelope
	if err := ws.ReadJSON(&reply); err != nil {
		ws.Close()
		return fmt.Errorf("await auth reply: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	switch reply.Type {
	case wire.TypeAuthSuccess:
		var ok wire.AuthSuccess
		if err := reply.DecodePayload(&ok); err != nil {
			ws.Close()
			return err
		}
		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			ws.Close()
			return ErrConnectionLost
		}
		c.ws = ws
		c.state = StateConnected
		c.connectionID = ok.ConnectionID
		c.reconnectAttempt = 0
		c.generation++
		gen := c.generation
		c.mu.Unlock()

		logger.Infof("[workspace] %s connected (connection %s)", c.workspaceID, ok.ConnectionID)
		go c.readLoop(ws, gen)
		if c.cfg.PingInterval > 0 {
			go c.pingLoop(ws, gen)
		}
		return nil

	case wire.TypeAuthFailure:
		var failure wire.AuthFailure
		reason := "rejected"
		if err := reply.DecodePayload(&failure); err == nil && failure.Error != "" {
			reason = failure.Error
		}
		ws.Close()
		return &AuthError{Reason: reason}

	default:
		ws.Close()
		return fmt.Errorf("unexpected handshake reply %s", reply.Type)
	}
}

// Execute runs a command against the agent and waits for the correlated
// response, the request timeout, or connection loss, whichever comes first.
func (c *Conn) Execute(ctx context.Context, cmd command.Command) (CommandResult, error) {
	if key := cmd.CacheKey(); key != "" && c.cache != nil {
		if res, ok := c.cache.Get(c.workspaceID, key); ok {
			logger.Debugf("[workspace] %s cache hit for %s", c.workspaceID, key)
			return res, nil
		}
	}

	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || ws == nil {
		return CommandResult{}, ErrNotConnected
	}

	id := uuid.NewString()
	ch := c.pending.register(id)

	env, err := wire.NewEnvelope(wire.TypeCommand, wire.CommandRequest{ID: id, Command: cmd.Spec()})
	if err != nil {
		c.pending.remove(id)
		return CommandResult{}, err
	}
	if err := c.writeEnvelope(ws, env); err != nil {
		c.pending.remove(id)
		return CommandResult{}, fmt.Errorf("send command: %w", err)
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return c.finish(cmd, res)
	case <-timer.C:
		if c.pending.remove(id) {
			logger.Warnf("[workspace] %s request %s timed out", c.workspaceID, id)
			return CommandResult{}, ErrRequestTimeout
		}
		// The response raced the timer; it is already buffered.
		return c.finish(cmd, <-ch)
	case <-ctx.Done():
		if c.pending.remove(id) {
			return CommandResult{}, ctx.Err()
		}
		return c.finish(cmd, <-ch)
	}
}

// finish converts a resolved pending result and feeds the cache.
func (c *Conn) finish(cmd command.Command, res pendingResult) (CommandResult, error) {
	if res.err != nil {
		return CommandResult{}, res.err
	}
	out := CommandResult{
		Success:         res.resp.Success,
		Data:            res.resp.Data,
		Error:           res.resp.Error,
		ExecutionTimeMs: res.resp.ExecutionTimeMs,
	}
	if out.Success && cmd.Cacheable() && c.cache != nil {
		c.cache.Put(c.workspaceID, cmd.CacheKey(), out)
	}
	return out, nil
}

// writeEnvelope serializes channel writes; the read loop, ping loop and
// command dispatch all share one transport.
func (c *Conn) writeEnvelope(ws *websocket.Conn, env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(env)
}

// readLoop owns inbound traffic for one established transport.
func (c *Conn) readLoop(ws *websocket.Conn, gen int) {
	for {
		var env wire.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			c.handleReadError(gen, err)
			return
		}

		switch env.Type {
		case wire.TypeCommandResponse:
			var resp wire.CommandResponse
			if err := env.DecodePayload(&resp); err != nil {
				logger.Warnf("[workspace] %s bad response payload: %v", c.workspaceID, err)
				continue
			}
			if !c.pending.resolve(resp.ID, resp) {
				logger.Debugf("[workspace] %s response for unknown id %s; ignoring", c.workspaceID, resp.ID)
			}

		case wire.TypeEvent:
			evt, err := wire.DecodeEvent(env)
			if err != nil {
				logger.Warnf("[workspace] %s bad event payload: %v", c.workspaceID, err)
				continue
			}
			if c.onEvent != nil {
				c.onEvent(evt)
			}

		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, nil)
			_ = c.writeEnvelope(ws, pong)

		case wire.TypePong:
			// Liveness acknowledged.

		default:
			logger.Debugf("[workspace] %s unexpected envelope %s", c.workspaceID, env.Type)
		}
	}
}

// pingLoop sends periodic liveness probes until the transport changes.
func (c *Conn) pingLoop(ws *websocket.Conn, gen int) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.generation
			c.mu.Unlock()
			if stale {
				return
			}
			ping, _ := wire.NewEnvelope(wire.TypePing, nil)
			if err := c.writeEnvelope(ws, ping); err != nil {
				return
			}
		}
	}
}

// handleReadError reacts to transport loss: every pending request is rejected
// immediately, and unless the disconnect was manual, backoff reconnection
// starts.
func (c *Conn) handleReadError(gen int, err error) {
	c.mu.Lock()
	if gen != c.generation || c.manual {
		c.mu.Unlock()
		return
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	c.pending.failAll(ErrConnectionLost)
	logger.Warnf("[workspace] %s connection lost: %v", c.workspaceID, err)
	go c.reconnectLoop()
}

// reconnectLoop retries the dial with exponential backoff until it succeeds,
// authentication is rejected, or attempts are exhausted.
func (c *Conn) reconnectLoop() {
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		delay := c.cfg.ReconnectBase << attempt

		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.manual {
			c.mu.Unlock()
			return
		}
		c.reconnectAttempt = attempt + 1
		c.mu.Unlock()

		err := c.dial(context.Background())
		if err == nil {
			return
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			logger.Errorf("[workspace] %s reconnect auth rejected: %v", c.workspaceID, err)
			c.setState(StateFailed)
			return
		}
		logger.Warnf("[workspace] %s reconnect attempt %d failed: %v", c.workspaceID, attempt+1, err)
	}

	logger.Errorf("[workspace] %s giving up after %d reconnect attempts", c.workspaceID, c.cfg.MaxReconnectAttempts)
	c.setState(StateFailed)
	c.pending.failAll(ErrReconnectExhausted)
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close tears the connection down. Every pending request is rejected
// synchronously and no reconnection is attempted.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.manual = true
	c.generation++
	ws := c.ws
	c.ws = nil
	c.state = StateDisconnected
	c.connectionID = ""
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	if ws != nil {
		ws.Close()
	}
	c.pending.failAll(ErrConnectionLost)
	return nil
}
