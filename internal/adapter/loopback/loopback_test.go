package loopback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
)

func TestSendPacketSelfLoopbackIsReceivable(t *testing.T) {
	a := New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)

	err := a.SendPacket(8, func(c bufferpool.Cursor) {
		c.Write([]byte("abcdefgh"))
	})
	require.NoError(t, err)

	c, ok := a.TryReceive()
	require.True(t, ok)
	assert.Equal(t, []byte("abcdefgh"), c.Bytes())
	c.Release()

	_, ok = a.TryReceive()
	assert.False(t, ok)
}

func TestSendPacketConnectedDeliversToPeer(t *testing.T) {
	client := New(netutil.MACAddr{1, 1, 1, 1, 1, 1}, 64, 4)
	server := New(netutil.MACAddr{2, 2, 2, 2, 2, 2}, 64, 4)
	Connect(client, server)

	err := client.SendPacket(4, func(c bufferpool.Cursor) { c.Write([]byte("ping")) })
	require.NoError(t, err)

	_, ok := client.TryReceive()
	assert.False(t, ok, "connected adapters must not loop back to themselves")

	c, ok := server.TryReceive()
	require.True(t, ok)
	assert.Equal(t, []byte("ping"), c.Bytes())
	c.Release()
}

func TestSendPacketDropsWhenQueueFull(t *testing.T) {
	a := New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 8, defaultQueueDepth+4)

	for i := 0; i < defaultQueueDepth; i++ {
		err := a.SendPacket(4, func(c bufferpool.Cursor) { c.Write([]byte("ping")) })
		require.NoError(t, err)
	}

	// One more send must not block or error: it is dropped and its
	// buffer returned to the pool.
	availableBefore := a.pool.Available()
	err := a.SendPacket(4, func(c bufferpool.Cursor) { c.Write([]byte("ping")) })
	require.NoError(t, err)
	assert.Equal(t, availableBefore, a.pool.Available())
}

func TestGetCurrentTCPSeqIsNonZero(t *testing.T) {
	a := New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)
	assert.NotZero(t, a.GetCurrentTCPSeq())
}
