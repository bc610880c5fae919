package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

func TestPendingTable_ResolveDeliversToWaiter(t *testing.T) {
	table := newPendingTable()
	ch := table.register("id-1")

	require.True(t, table.resolve("id-1", wire.CommandResponse{ID: "id-1", Success: true}))
	res := <-ch
	require.NoError(t, res.err)
	require.True(t, res.resp.Success)
	require.Zero(t, table.size())
}

func TestPendingTable_UnknownIDIgnored(t *testing.T) {
	table := newPendingTable()
	require.False(t, table.resolve("nope", wire.CommandResponse{ID: "nope"}))
}

func TestPendingTable_RemoveDiscardsEntry(t *testing.T) {
	table := newPendingTable()
	table.register("id-1")

	require.True(t, table.remove("id-1"))
	require.False(t, table.remove("id-1"))
	// A late response for a discarded id resolves nothing.
	require.False(t, table.resolve("id-1", wire.CommandResponse{ID: "id-1"}))
}

func TestPendingTable_FailAllRejectsEveryWaiter(t *testing.T) {
	table := newPendingTable()
	a := table.register("a")
	b := table.register("b")

	table.failAll(ErrConnectionLost)
	require.ErrorIs(t, (<-a).err, ErrConnectionLost)
	require.ErrorIs(t, (<-b).err, ErrConnectionLost)
	require.Zero(t, table.size())
}
