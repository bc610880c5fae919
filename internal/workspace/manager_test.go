package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/command"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/crypto"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
	"github.com/hubslotph/kiro-whatsapp-integration/internal/workspace/agenttest"
)

func newTestManager(t *testing.T, agent *agenttest.Agent, opts ...ManagerOption) *Manager {
	t.Helper()
	jwt, err := crypto.NewJWTManager("manager-test-secret")
	require.NoError(t, err)

	m := NewManager(func(string) string { return agent.URL() }, jwt, testConfig(), opts...)
	t.Cleanup(m.Close)
	return m
}

func TestManager_ConnectsOnFirstUse(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()
	m := newTestManager(t, agent)

	require.Equal(t, StateDisconnected, m.State("ws-1"))

	res, err := m.Execute(context.Background(), "ws-1", command.Command{Kind: command.KindSearch, Query: "hi"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, StateConnected, m.State("ws-1"))
}

func TestManager_TokenCarriesWorkspaceID(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()

	jwt, err := crypto.NewJWTManager("manager-test-secret")
	require.NoError(t, err)
	agent.SetVerify(func(token, workspaceID string) error {
		claims, err := jwt.VerifyChannelToken(token)
		if err != nil {
			return err
		}
		if claims.WorkspaceID != workspaceID {
			return ErrNotConnected
		}
		return nil
	})

	m := NewManager(func(string) string { return agent.URL() }, jwt, testConfig())
	t.Cleanup(m.Close)

	conn, err := m.Conn(context.Background(), "ws-42")
	require.NoError(t, err)
	require.Equal(t, StateConnected, conn.State())
}

func TestManager_ReusesConnection(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()
	m := newTestManager(t, agent)

	a, err := m.Conn(context.Background(), "ws-1")
	require.NoError(t, err)
	b, err := m.Conn(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, agent.AuthCount())
}

func TestManager_EventHandlerTagged(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()

	type tagged struct {
		workspaceID string
		evt         wire.WorkspaceEvent
	}
	received := make(chan tagged, 4)
	m := newTestManager(t, agent, WithManagerEventHandler(func(workspaceID string, evt wire.WorkspaceEvent) {
		received <- tagged{workspaceID, evt}
	}))

	_, err := m.Conn(context.Background(), "ws-9")
	require.NoError(t, err)
	require.NoError(t, agent.PushEvent(wire.WorkspaceEvent{Type: wire.EventError}))

	select {
	case got := <-received:
		require.Equal(t, "ws-9", got.workspaceID)
		require.Equal(t, wire.EventError, got.evt.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not observed")
	}
}

func TestManager_DisconnectForgetsConnection(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()
	m := newTestManager(t, agent)

	conn, err := m.Conn(context.Background(), "ws-1")
	require.NoError(t, err)

	m.Disconnect("ws-1")
	require.Equal(t, StateDisconnected, conn.State())
	require.Equal(t, StateDisconnected, m.State("ws-1"))
}

func TestManager_CloseStopsEverything(t *testing.T) {
	agent := agenttest.New()
	defer agent.Close()
	m := newTestManager(t, agent)

	_, err := m.Conn(context.Background(), "ws-1")
	require.NoError(t, err)

	m.Close()
	_, err = m.Conn(context.Background(), "ws-1")
	require.ErrorIs(t, err, ErrNotConnected)
}
