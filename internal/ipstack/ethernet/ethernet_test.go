package ethernet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjavaux/netstack/internal/adapter/loopback"
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
)

type recordingReceiver struct {
	payloads [][]byte
}

func (r *recordingReceiver) ReceiveMessage(c bufferpool.Cursor) {
	r.payloads = append(r.payloads, c.Bytes())
}

func TestReceiveFrameDispatchesByEtherType(t *testing.T) {
	phys := loopback.New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)
	eth := New(phys, phys.Addr())

	arpRecv := &recordingReceiver{}
	ipRecv := &recordingReceiver{}
	eth.RegisterReceiver(TypeARP, arpRecv)
	eth.RegisterReceiver(TypeIPv4, ipRecv)

	frame := make([]byte, HeaderSize+4)
	copy(frame[0:6], eth.Addr().Bytes())
	copy(frame[6:12], []byte{9, 9, 9, 9, 9, 9})
	netutil.HostToNet16(TypeIPv4).PutNet(frame[12:14])
	copy(frame[14:18], []byte("data"))

	eth.ReceiveFrame(bufferpool.AllocateUnmanaged(frame))

	assert.Empty(t, arpRecv.payloads)
	require.Len(t, ipRecv.payloads, 1)
	assert.Equal(t, []byte("data"), ipRecv.payloads[0])
}

func TestReceiveFrameIgnoresWrongRecipient(t *testing.T) {
	phys := loopback.New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)
	eth := New(phys, phys.Addr())

	recv := &recordingReceiver{}
	eth.RegisterReceiver(TypeIPv4, recv)

	frame := make([]byte, HeaderSize)
	copy(frame[0:6], []byte{7, 7, 7, 7, 7, 7}) // not us, not broadcast
	netutil.HostToNet16(TypeIPv4).PutNet(frame[12:14])

	eth.ReceiveFrame(bufferpool.AllocateUnmanaged(frame))
	assert.Empty(t, recv.payloads)
}

func TestReceiveFrameAcceptsBroadcast(t *testing.T) {
	phys := loopback.New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)
	eth := New(phys, phys.Addr())

	recv := &recordingReceiver{}
	eth.RegisterReceiver(TypeARP, recv)

	frame := make([]byte, HeaderSize+2)
	copy(frame[0:6], netutil.BroadcastMAC.Bytes())
	netutil.HostToNet16(TypeARP).PutNet(frame[12:14])
	copy(frame[14:16], []byte("hi"))

	eth.ReceiveFrame(bufferpool.AllocateUnmanaged(frame))
	require.Len(t, recv.payloads, 1)
	assert.Equal(t, []byte("hi"), recv.payloads[0])
}

func TestSendARPPayloadFramesAndDeliversToAdapter(t *testing.T) {
	phys := loopback.New(netutil.MACAddr{1, 2, 3, 4, 5, 6}, 64, 4)
	eth := New(phys, phys.Addr())

	dst := netutil.MACAddr{8, 8, 8, 8, 8, 8}
	err := eth.SendARPPayload(dst, 4, func(c bufferpool.Cursor) { c.Write([]byte("ARPM")) })
	require.NoError(t, err)

	c, ok := phys.TryReceive()
	require.True(t, ok)
	frame := c.Bytes()
	assert.Equal(t, dst.Bytes(), frame[0:6])
	assert.Equal(t, eth.Addr().Bytes(), frame[6:12])
	assert.Equal(t, TypeARP, netutil.NetBytesToNet16(frame[12:14]).Host())
	assert.Equal(t, []byte("ARPM"), frame[14:18])
}
