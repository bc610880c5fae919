package workspace

import (
	"context"
	"sync"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/command"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/crypto"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/pkg/logger"
)

// AgentURLFunc resolves the websocket URL of a workspace's agent.
type AgentURLFunc func(workspaceID string) string

// Manager owns one Conn per workspace and hands out connections on demand.
//
// The manager is an explicitly constructed component with a Close lifecycle;
// tests build as many independent managers as they need.
type Manager struct {
	agentURL AgentURLFunc
	jwt      *crypto.JWTManager
	cache    *ResultCache
	onEvent  func(workspaceID string, evt wire.WorkspaceEvent)
	cfg      Config

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerCache attaches a shared result cache for all connections.
func WithManagerCache(cache *ResultCache) ManagerOption {
	return func(m *Manager) { m.cache = cache }
}

// WithManagerEventHandler receives every agent event with its workspace id.
func WithManagerEventHandler(fn func(workspaceID string, evt wire.WorkspaceEvent)) ManagerOption {
	return func(m *Manager) { m.onEvent = fn }
}

// NewManager creates a connection manager.
func NewManager(agentURL AgentURLFunc, jwt *crypto.JWTManager, cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		agentURL: agentURL,
		jwt:      jwt,
		cfg:      cfg,
		conns:    make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Conn returns the workspace's connection, creating and connecting it on
// first use.
func (m *Manager) Conn(ctx context.Context, workspaceID string) (*Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn, ok := m.conns[workspaceID]
	if !ok {
		conn = m.newConn(workspaceID)
		m.conns[workspaceID] = conn
	}
	m.mu.Unlock()

	if conn.State() == StateConnected {
		return conn, nil
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (m *Manager) newConn(workspaceID string) *Conn {
	token := func() (string, error) {
		return m.jwt.CreateChannelToken(workspaceID)
	}
	opts := []ConnOption{}
	if m.cache != nil {
		opts = append(opts, WithCache(m.cache))
	}
	if m.onEvent != nil {
		opts = append(opts, WithEventHandler(func(evt wire.WorkspaceEvent) {
			m.onEvent(workspaceID, evt)
		}))
	}
	return NewConn(workspaceID, m.agentURL(workspaceID), token, m.cfg, opts...)
}

// Execute runs a command on the workspace's connection.
func (m *Manager) Execute(ctx context.Context, workspaceID string, cmd command.Command) (CommandResult, error) {
	conn, err := m.Conn(ctx, workspaceID)
	if err != nil {
		return CommandResult{}, err
	}
	return conn.Execute(ctx, cmd)
}

// State reports the lifecycle state for a workspace connection without
// creating one.
func (m *Manager) State(workspaceID string) State {
	m.mu.Lock()
	conn, ok := m.conns[workspaceID]
	m.mu.Unlock()
	if !ok {
		return StateDisconnected
	}
	return conn.State()
}

// Disconnect tears down one workspace connection.
func (m *Manager) Disconnect(workspaceID string) {
	m.mu.Lock()
	conn, ok := m.conns[workspaceID]
	delete(m.conns, workspaceID)
	m.mu.Unlock()
	if ok {
		logger.Infof("[workspace] disconnecting %s", workspaceID)
		conn.Close()
	}
}

// Close tears down every connection. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
