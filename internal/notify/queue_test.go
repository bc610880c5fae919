package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/database"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewQueue(db)
}

func TestQueueEnqueueLoadRoundtrip(t *testing.T) {
	q := newTestQueue(t)

	n := New("15551234567", TypeBuild, PriorityMedium, "Build succeeded", "api-server")
	n.Metadata = map[string]string{"workspaceId": "ws-1"}
	require.NoError(t, q.Enqueue(n))

	loaded, err := q.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	require.Equal(t, n.ID, got.ID)
	require.Equal(t, n.Recipient, got.Recipient)
	require.Equal(t, n.Type, got.Type)
	require.Equal(t, n.Priority, got.Priority)
	require.Equal(t, n.Title, got.Title)
	require.Equal(t, n.Body, got.Body)
	require.Equal(t, "ws-1", got.Metadata["workspaceId"])
}

func TestQueueLoadPreservesOrder(t *testing.T) {
	q := newTestQueue(t)

	base := time.Now().Add(-time.Minute)
	var ids []string
	for i := 0; i < 5; i++ {
		n := New("r", TypeSystem, PriorityLow, "t", "b")
		n.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, q.Enqueue(n))
		ids = append(ids, n.ID)
	}

	loaded, err := q.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	for i, n := range loaded {
		require.Equal(t, ids[i], n.ID)
	}
}

func TestQueueRemoveConfirmsDelivery(t *testing.T) {
	q := newTestQueue(t)

	a := New("r", TypeSystem, PriorityLow, "a", "a")
	b := New("r", TypeSystem, PriorityLow, "b", "b")
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	require.NoError(t, q.Remove([]string{a.ID}))

	loaded, err := q.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, b.ID, loaded[0].ID)

	n, err := q.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestQueueRemoveEmptyIsNoop(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Remove(nil))
}

func TestQueueMarkAttemptKeepsEntry(t *testing.T) {
	q := newTestQueue(t)

	n := New("r", TypeError, PriorityHigh, "t", "b")
	require.NoError(t, q.Enqueue(n))
	require.NoError(t, q.MarkAttempt([]string{n.ID}))
	require.NoError(t, q.MarkAttempt([]string{n.ID}))

	loaded, err := q.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
