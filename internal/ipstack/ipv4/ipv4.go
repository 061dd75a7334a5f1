// Package ipv4 implements IPv4 datagram input and output: header
// validation, protocol dispatch, and ARP-resolved egress over an Ethernet
// instance (spec.md §4.6).
//
// Like internal/ipstack/ethernet, this package avoids importing the layers
// on either side of it: EthernetSender and ARPResolver are small interfaces
// it defines for what it needs from the data-link layer, and PayloadReceiver
// is what an upper protocol (TCP) registers to receive datagrams.
package ipv4

import (
	"sync/atomic"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/printer"
)

// HeaderSize is the fixed 20-byte IPv4 header this stack sends and expects;
// datagrams carrying IP options (IHL != 5) are rejected (spec.md §5,
// Non-goals).
const HeaderSize = 20

const (
	headerLenWords = HeaderSize / 4
	ipVersion      = 4
	tosDefault     = 0
	ttlDefault     = 64

	flagDF     uint16 = 0x4000 // Don't Fragment
	flagMF     uint16 = 0x2000 // More Fragments
	fragOffMsk uint16 = 0x1FFF
)

// ProtocolTCP is the IPv4 protocol number for TCP, used to register TCP as
// this instance's protocol 6 receiver.
const ProtocolTCP uint8 = 6

// EthernetSender is what this package needs from the data-link layer to
// send a datagram once its next hop's hardware address is known.
type EthernetSender interface {
	SendIPPayload(dst netutil.MACAddr, size int, writer bufferpool.Writer) error
}

// ARPResolver is what this package needs from the ARP resolver to translate
// a next-hop IPv4 address into a hardware address. arpresolver.Resolver
// satisfies this directly.
type ARPResolver interface {
	WithDataLinkAddr(proto netutil.IPv4Addr, callback func(*netutil.MACAddr)) bool
}

// PayloadReceiver is implemented by the upper protocol layer registered for
// an IPv4 protocol number (TCP, for ProtocolTCP).
type PayloadReceiver interface {
	ReceiveSegment(remote netutil.IPv4Addr, cursor bufferpool.Cursor)
}

// IPv4 is one worker's IPv4 instance, bound to one Ethernet/ARP pair.
type IPv4 struct {
	ethernet EthernetSender
	arp      ARPResolver
	addr     netutil.IPv4Addr

	receivers map[uint8]PayloadReceiver

	maxPayloadSize int
	datagramID     uint32 // atomic; wraps into the 16-bit id field
}

// New creates an IPv4 instance addressed as addr, sending through ethernet
// and resolving next hops through arp. maxPayloadSize should be the
// data-link layer's MaxPayloadSize; values above 65535 are capped here to
// fit the 16-bit IPv4 total-length field.
func New(ethernet EthernetSender, arp ARPResolver, addr netutil.IPv4Addr, maxPayloadSize int) *IPv4 {
	if maxPayloadSize > 65535 {
		maxPayloadSize = 65535
	}
	return &IPv4{
		ethernet:       ethernet,
		arp:            arp,
		addr:           addr,
		receivers:      make(map[uint8]PayloadReceiver, 1),
		maxPayloadSize: maxPayloadSize - HeaderSize,
	}
}

// Addr is this instance's own IPv4 address.
func (ip *IPv4) Addr() netutil.IPv4Addr { return ip.addr }

// MaxPayloadSize is the largest protocol payload a datagram can carry.
func (ip *IPv4) MaxPayloadSize() int { return ip.maxPayloadSize }

// RegisterReceiver binds the PayloadReceiver for an IPv4 protocol number.
func (ip *IPv4) RegisterReceiver(protocol uint8, r PayloadReceiver) {
	ip.receivers[protocol] = r
}

// ReceiveMessage processes one IPv4 datagram. cursor must begin at the
// IPv4 header and end at the end of the datagram (i.e. the Ethernet
// payload, with no trailing padding). Satisfies ethernet.PayloadReceiver.
func (ip *IPv4) ReceiveMessage(cursor bufferpool.Cursor) {
	originalSize := cursor.Size()
	if originalSize < HeaderSize {
		printer.Errorf("ipv4: datagram ignored: too small to hold a header\n")
		return
	}

	var version, ihl, protocol uint8
	var totalSize, fragOff int
	var saddr, daddr netutil.IPv4Addr
	var headerRaw [HeaderSize]byte

	rest := cursor.ReadWith(HeaderSize, func(b []byte) {
		copy(headerRaw[:], b)
		version = b[0] >> 4
		ihl = b[0] & 0x0F
		totalSize = int(netutil.NetBytesToNet16(b[2:4]).Host())
		fragOff = int(netutil.NetBytesToNet16(b[6:8]).Host())
		protocol = b[9]
		saddr = netutil.IPv4FromBytes(b[12:16])
		daddr = netutil.IPv4FromBytes(b[16:20])
	})

	if version != ipVersion {
		printer.Errorf("ipv4: datagram from %s ignored: bad version %d\n", saddr, version)
		return
	}
	if int(ihl) != headerLenWords {
		printer.Errorf("ipv4: datagram from %s ignored: options are not supported\n", saddr)
		return
	}
	if totalSize < HeaderSize {
		printer.Errorf("ipv4: datagram from %s ignored: total size smaller than header\n", saddr)
		return
	}
	if originalSize != totalSize {
		printer.Errorf("ipv4: datagram from %s ignored: total size doesn't match frame size\n", saddr)
		return
	}
	if fragOff&int(flagMF) != 0 || fragOff&int(fragOffMsk) > 0 {
		printer.Errorf("ipv4: datagram from %s ignored: fragmented datagrams are not supported\n", saddr)
		return
	}
	if daddr != ip.addr {
		printer.V(6).Debugf("ipv4: datagram from %s ignored: bad recipient %s\n", saddr, daddr)
		return
	}
	if !netutil.IsValidChecksum(headerRaw[:]) {
		printer.Errorf("ipv4: datagram from %s ignored: invalid checksum\n", saddr)
		return
	}

	receiver, ok := ip.receivers[protocol]
	if !ok {
		printer.Errorf("ipv4: datagram from %s ignored: unknown protocol %d\n", saddr, protocol)
		return
	}

	printer.V(6).Debugf("ipv4: datagram from %s, protocol %d\n", saddr, protocol)
	receiver.ReceiveSegment(saddr, rest)
}

// SendPayload resolves dst's hardware address and sends a datagram carrying
// protocol with a payloadSize-byte payload written by writer. writer may be
// invoked later (once ARP resolves) rather than before SendPayload returns;
// it must be a pure function of the cursor it receives, since a
// retransmission queue may call it again (spec.md §4.5.3).
//
// Returns true if the send proceeded synchronously (dst's address was
// already cached), false if it was deferred pending ARP resolution.
func (ip *IPv4) SendPayload(dst netutil.IPv4Addr, protocol uint8, payloadSize int, writer bufferpool.Writer) bool {
	datagramSize := HeaderSize + payloadSize

	return ip.arp.WithDataLinkAddr(dst, func(dataLinkDst *netutil.MACAddr) {
		if dataLinkDst == nil {
			printer.Errorf("ipv4: unreachable address: %s\n", dst)
			return
		}

		id := uint16(atomic.AddUint32(&ip.datagramID, 1))

		printer.V(6).Debugf("ipv4: sends a %d byte datagram to %s, protocol %d\n", datagramSize, dst, protocol)

		err := ip.ethernet.SendIPPayload(*dataLinkDst, datagramSize, func(c bufferpool.Cursor) {
			c = ip.writeHeader(c, datagramSize, id, protocol, dst)
			writer(c)
		})
		if err != nil {
			printer.Errorf("ipv4: failed to send datagram to %s: %v\n", dst, err)
		}
	})
}

// writeHeader writes the IPv4 header (with a freshly computed checksum)
// into cursor and returns the cursor advanced past it.
func (ip *IPv4) writeHeader(cursor bufferpool.Cursor, datagramSize int, id uint16, protocol uint8, dst netutil.IPv4Addr) bufferpool.Cursor {
	var hdr [HeaderSize]byte

	hdr[0] = (ipVersion << 4) | headerLenWords
	hdr[1] = tosDefault
	netutil.HostToNet16(uint16(datagramSize)).PutNet(hdr[2:4])
	netutil.HostToNet16(id).PutNet(hdr[4:6])
	netutil.HostToNet16(flagDF).PutNet(hdr[6:8])
	hdr[8] = ttlDefault
	// Written as a normal field assignment: the reference implementation's
	// header writer has a transcription bug here (`hdr-protocol = protocol`,
	// pointer arithmetic instead of a field store) that silently leaves the
	// protocol field zeroed on every datagram it sends.
	hdr[9] = protocol
	// hdr[10:12] (checksum) filled in below, after the rest of the header.
	copy(hdr[12:16], ip.addr.Bytes())
	copy(hdr[16:20], dst.Bytes())

	checksum := netutil.Checksum(hdr[:])
	netutil.HostToNet16(checksum).PutNet(hdr[10:12])

	return cursor.WriteWith(HeaderSize, func(b []byte) { copy(b, hdr[:]) })
}
