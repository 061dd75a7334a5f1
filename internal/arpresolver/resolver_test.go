package arpresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
)

type sentMsg struct {
	dst  netutil.MACAddr
	data []byte
}

type fakeDataLink struct {
	addr      netutil.MACAddr
	broadcast netutil.MACAddr
	pool      *bufferpool.Pool
	sent      []sentMsg
}

func (f *fakeDataLink) Addr() netutil.MACAddr      { return f.addr }
func (f *fakeDataLink) Broadcast() netutil.MACAddr { return f.broadcast }

func (f *fakeDataLink) SendARPPayload(dst netutil.MACAddr, size int, write bufferpool.Writer) error {
	c, err := f.pool.Allocate(size)
	if err != nil {
		return err
	}
	write(c)
	f.sent = append(f.sent, sentMsg{dst: dst, data: append([]byte(nil), c.Bytes()...)})
	return nil
}

type fakeProto struct{ addr netutil.IPv4Addr }

func (f fakeProto) Addr() netutil.IPv4Addr { return f.addr }

type fakeClock struct{ now uint64 }

func (f *fakeClock) clock() uint64    { return f.now }
func (f *fakeClock) advance(d uint64) { f.now += d }

func buildMessage(op uint16, sha netutil.MACAddr, spa netutil.IPv4Addr, tha netutil.MACAddr, tpa netutil.IPv4Addr) []byte {
	b := make([]byte, fixedHeaderSize+2*6+2*4)
	netutil.HostToNet16(netutil.ARPTypeEther).PutNet(b[0:2])
	netutil.HostToNet16(netutil.ARPTypeIPv4).PutNet(b[2:4])
	b[4] = 6
	b[5] = 4
	netutil.HostToNet16(op).PutNet(b[6:8])
	copy(b[8:14], sha.Bytes())
	copy(b[14:18], spa.Bytes())
	copy(b[18:24], tha.Bytes())
	copy(b[24:28], tpa.Bytes())
	return b
}

func newTestResolver(t *testing.T) (*Resolver[netutil.MACAddr, netutil.IPv4Addr], *fakeDataLink, *fakeClock) {
	t.Helper()
	fc := &fakeClock{}
	timers := timerwheel.NewWheel(1_000_000, fc.clock)
	dl := &fakeDataLink{
		addr:      netutil.MACFromBytes([]byte{0, 1, 2, 3, 4, 5}),
		broadcast: netutil.BroadcastMAC,
		pool:      bufferpool.NewPool(64, 8),
	}
	proto := fakeProto{addr: netutil.IPv4Addr{10, 0, 0, 1}}
	r := New[netutil.MACAddr, netutil.IPv4Addr](dl, timers, proto, netutil.MACFromBytes, netutil.IPv4FromBytes)
	return r, dl, fc
}

func TestReceiveMessageRequestForUsSendsReply(t *testing.T) {
	r, dl, _ := newTestResolver(t)

	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})
	peerIP := netutil.IPv4Addr{10, 0, 0, 2}

	msg := buildMessage(opRequest, peerMAC, peerIP, netutil.MACAddr{}, netutil.IPv4Addr{10, 0, 0, 1})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(msg))

	require.Len(t, dl.sent, 1)
	assert.Equal(t, peerMAC, dl.sent[0].dst)

	// The reply must carry our own address as sender and the requester's
	// address as target.
	reply := dl.sent[0].data
	assert.Equal(t, opReply, netutil.NetBytesToNet16(reply[6:8]).Host())
	assert.Equal(t, dl.addr.Bytes(), reply[8:14])
	assert.Equal(t, peerMAC.Bytes(), reply[18:24])
	assert.Equal(t, peerIP.Bytes(), reply[24:28])
}

func TestReceiveMessageRequestCachesSenderEvenWhenNotForUs(t *testing.T) {
	r, dl, _ := newTestResolver(t)

	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})
	peerIP := netutil.IPv4Addr{10, 0, 0, 2}

	msg := buildMessage(opRequest, peerMAC, peerIP, netutil.MACAddr{}, netutil.IPv4Addr{10, 0, 0, 99})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(msg))

	assert.Empty(t, dl.sent, "must not reply when tpa isn't our address")

	var resolved *netutil.MACAddr
	ok := r.WithDataLinkAddr(peerIP, func(addr *netutil.MACAddr) { resolved = addr })
	assert.True(t, ok, "sender address from the request must already be cached")
	require.NotNil(t, resolved)
	assert.Equal(t, peerMAC, *resolved)
}

func TestWithDataLinkAddrResolveAndReply(t *testing.T) {
	r, dl, _ := newTestResolver(t)

	peerIP := netutil.IPv4Addr{10, 0, 0, 2}
	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})

	var resolved *netutil.MACAddr
	ok := r.WithDataLinkAddr(peerIP, func(addr *netutil.MACAddr) { resolved = addr })
	assert.False(t, ok, "unresolved address must defer the callback")
	assert.Nil(t, resolved)

	require.Len(t, dl.sent, 1, "must have broadcast exactly one request")
	assert.Equal(t, netutil.BroadcastMAC, dl.sent[0].dst)

	reply := buildMessage(opReply, peerMAC, peerIP, dl.addr, netutil.IPv4Addr{10, 0, 0, 1})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(reply))

	require.NotNil(t, resolved)
	assert.Equal(t, peerMAC, *resolved)
}

func TestWithDataLinkAddrCoalescesConcurrentLookups(t *testing.T) {
	r, dl, _ := newTestResolver(t)

	peerIP := netutil.IPv4Addr{10, 0, 0, 2}
	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})

	var first, second *netutil.MACAddr
	r.WithDataLinkAddr(peerIP, func(addr *netutil.MACAddr) { first = addr })
	r.WithDataLinkAddr(peerIP, func(addr *netutil.MACAddr) { second = addr })

	require.Len(t, dl.sent, 1, "second lookup of the same pending address must not re-broadcast")

	reply := buildMessage(opReply, peerMAC, peerIP, dl.addr, netutil.IPv4Addr{10, 0, 0, 1})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(reply))

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, peerMAC, *first)
	assert.Equal(t, peerMAC, *second)
}

func TestWithDataLinkAddrTimesOutWithNilAddr(t *testing.T) {
	r, _, fc := newTestResolver(t)

	peerIP := netutil.IPv4Addr{10, 0, 0, 2}

	var called bool
	var resolved *netutil.MACAddr
	r.WithDataLinkAddr(peerIP, func(addr *netutil.MACAddr) {
		called = true
		resolved = addr
	})

	fc.advance(requestTimeoutUs + 1)
	r.timers.Tick()

	assert.True(t, called)
	assert.Nil(t, resolved)
	_, stillPending := r.pending[peerIP]
	assert.False(t, stillPending)
}

func TestCacheEntryExpires(t *testing.T) {
	r, dl, fc := newTestResolver(t)

	peerIP := netutil.IPv4Addr{10, 0, 0, 2}
	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})

	reply := buildMessage(opReply, peerMAC, peerIP, dl.addr, netutil.IPv4Addr{10, 0, 0, 1})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(reply))

	_, cached := r.cache[peerIP]
	require.True(t, cached)

	fc.advance(entryTimeoutUs + 1)
	r.timers.Tick()

	_, stillCached := r.cache[peerIP]
	assert.False(t, stillCached)
}

func TestCacheAndPendingKeysAreDisjoint(t *testing.T) {
	r, dl, _ := newTestResolver(t)

	peerIP := netutil.IPv4Addr{10, 0, 0, 2}
	peerMAC := netutil.MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0, 0, 1})

	r.WithDataLinkAddr(peerIP, func(*netutil.MACAddr) {})
	_, pending := r.pending[peerIP]
	_, cached := r.cache[peerIP]
	assert.True(t, pending)
	assert.False(t, cached)

	reply := buildMessage(opReply, peerMAC, peerIP, dl.addr, netutil.IPv4Addr{10, 0, 0, 1})
	r.ReceiveMessage(bufferpool.AllocateUnmanaged(reply))

	_, pending = r.pending[peerIP]
	_, cached = r.cache[peerIP]
	assert.False(t, pending)
	assert.True(t, cached)
}
