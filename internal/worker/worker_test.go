package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjavaux/netstack/internal/adapter/loopback"
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/ipstack/ethernet"
	"github.com/rjavaux/netstack/internal/ipstack/tcp"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
)

// buildSYNFrame constructs a raw Ethernet frame carrying an IPv4 datagram
// carrying a TCP SYN, addressed from peer to server — exercising a full
// Stack's ingress dispatch chain (Ethernet -> IPv4 -> TCP) the same way a
// real NIC delivery would.
func buildSYNFrame(t *testing.T, dstMAC, srcMAC netutil.MACAddr, srcIP, dstIP netutil.IPv4Addr, srcPort, dstPort uint16, seq uint32) []byte {
	t.Helper()

	tcpHeader := make([]byte, 20)
	tcpHeader[0], tcpHeader[1] = byte(srcPort>>8), byte(srcPort)
	tcpHeader[2], tcpHeader[3] = byte(dstPort>>8), byte(dstPort)
	tcpHeader[4], tcpHeader[5], tcpHeader[6], tcpHeader[7] = byte(seq>>24), byte(seq>>16), byte(seq>>8), byte(seq)
	tcpHeader[12] = 5 << 4 // data offset, no options
	tcpHeader[13] = 1 << 1 // SYN
	tcpHeader[14], tcpHeader[15] = 0xff, 0xff

	var pseudo [12]byte
	copy(pseudo[0:4], srcIP.Bytes())
	copy(pseudo[4:8], dstIP.Bytes())
	pseudo[9] = 6 // TCP
	pseudo[10], pseudo[11] = 0, 20
	checksum := netutil.Checksum(append(append([]byte{}, pseudo[:]...), tcpHeader...))
	tcpHeader[16], tcpHeader[17] = byte(checksum>>8), byte(checksum)

	ipHeader := make([]byte, 20)
	ipHeader[0] = (4 << 4) | 5
	total := uint16(20 + len(tcpHeader))
	ipHeader[2], ipHeader[3] = byte(total>>8), byte(total)
	ipHeader[8] = 64 // TTL
	ipHeader[9] = 6  // protocol TCP
	copy(ipHeader[12:16], srcIP.Bytes())
	copy(ipHeader[16:20], dstIP.Bytes())
	ipChecksum := netutil.Checksum(ipHeader)
	ipHeader[10], ipHeader[11] = byte(ipChecksum>>8), byte(ipChecksum)

	frame := make([]byte, 0, 14+len(ipHeader)+len(tcpHeader))
	frame = append(frame, dstMAC.Bytes()...)
	frame = append(frame, srcMAC.Bytes()...)
	frame = append(frame, byte(ethernet.TypeIPv4>>8), byte(ethernet.TypeIPv4))
	frame = append(frame, ipHeader...)
	frame = append(frame, tcpHeader...)
	return frame
}

func TestWiredStackAcceptsConnectionOverLoopback(t *testing.T) {
	peerMAC := netutil.MACFromBytes([]byte{0, 0, 0, 0, 0, 1})
	serverMAC := netutil.MACFromBytes([]byte{0, 0, 0, 0, 0, 2})
	peerIP := netutil.IPv4Addr{10, 0, 0, 1}
	serverIP := netutil.IPv4Addr{10, 0, 0, 2}

	peerAdapter := loopback.New(peerMAC, 1500, 16)
	serverAdapter := loopback.New(serverMAC, 1500, 16)
	loopback.Connect(peerAdapter, serverAdapter)

	server := NewStack(serverAdapter, serverMAC, serverIP, 1_000_000_000, timerwheel.RealCycleClock())
	server.SetStaticARPEntry(peerMAC, peerIP)

	require.NoError(t, server.TCP.Listen(80, 4))
	require.NoError(t, server.TCP.Accept(80, func(c *tcp.Conn) {}))

	frame := buildSYNFrame(t, serverMAC, peerMAC, peerIP, serverIP, 40000, 80, 1000)
	require.NoError(t, peerAdapter.SendPacket(len(frame), func(c bufferpool.Cursor) { c.Write(frame) }))

	sw := New(serverAdapter, server)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sw.stack.Timers.Tick()
		cur, ok := serverAdapter.TryReceive()
		if !ok {
			continue
		}
		server.Ethernet.ReceiveFrame(cur)
		break
	}

	reply, ok := peerAdapter.TryReceive()
	require.True(t, ok, "server should have replied SYN+ACK onto the loopback link")
	data := reply.Bytes()
	require.GreaterOrEqual(t, len(data), 14+20+20)

	ipStart := 14
	tcpStart := ipStart + 20
	assert.Equal(t, uint8(6), data[ipStart+9], "IP protocol field must be TCP")
	flags := data[tcpStart+13]
	assert.Equal(t, byte(0x12), flags, "SYN+ACK flags expected")
}
