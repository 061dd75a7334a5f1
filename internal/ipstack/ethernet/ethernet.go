// Package ethernet implements Ethernet framing: ingress validation and
// EtherType dispatch to whichever upper-layer instance registered for that
// type, and egress framing over a PhysicalAdapter (spec.md §4.7).
//
// Ethernet has no import-time dependency on ARP or IPv4: upper layers
// register themselves as a PayloadReceiver for the EtherType they handle,
// and Ethernet is handed to them (as an arpresolver.DataLink / an IPv4
// egress collaborator) through small interfaces those packages define
// locally. The reference implementation wires these the other way around —
// ethernet_t<phys_t> directly holds its arp_t and ipv4_t members as
// templates — which Go cannot do without an import cycle (ethernet would
// import ipv4, which sends through ethernet). Constructor-injected
// interfaces are this stack's idiomatic substitute.
package ethernet

import (
	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/printer"
)

// EtherType values this stack dispatches (ETHERTYPE_ARP / ETHERTYPE_IP).
const (
	TypeARP  uint16 = 0x0806
	TypeIPv4 uint16 = 0x0800
)

// HeaderSize is the fixed 14-byte Ethernet header: dhost, shost, type.
const HeaderSize = 6 + 6 + 2

// PayloadReceiver is implemented by whatever upper layer registers for an
// EtherType (the ARP resolver, the IPv4 instance).
type PayloadReceiver interface {
	ReceiveMessage(cursor bufferpool.Cursor)
}

// Ethernet is one worker's data-link layer instance, bound to exactly one
// PhysicalAdapter.
type Ethernet struct {
	addr      netutil.MACAddr
	phys      adapter.PhysicalAdapter
	receivers map[uint16]PayloadReceiver
}

// New creates an Ethernet instance over phys, addressed as addr.
func New(phys adapter.PhysicalAdapter, addr netutil.MACAddr) *Ethernet {
	return &Ethernet{
		addr:      addr,
		phys:      phys,
		receivers: make(map[uint16]PayloadReceiver, 2),
	}
}

// RegisterReceiver binds the PayloadReceiver that handles etherType frames.
// Called once per upper layer during stack wiring, before any frame is
// received.
func (e *Ethernet) RegisterReceiver(etherType uint16, r PayloadReceiver) {
	e.receivers[etherType] = r
}

// Addr is this instance's own Ethernet address. Satisfies
// arpresolver.DataLink's Addr method.
func (e *Ethernet) Addr() netutil.MACAddr { return e.addr }

// Broadcast is the Ethernet broadcast address. Satisfies
// arpresolver.DataLink's Broadcast method.
func (e *Ethernet) Broadcast() netutil.MACAddr { return netutil.BroadcastMAC }

// MaxPayloadSize is the largest upper-layer payload a frame on this
// instance's adapter can carry.
func (e *Ethernet) MaxPayloadSize() int {
	return e.phys.MaxPacketSize() - HeaderSize
}

// ReceiveFrame processes one Ethernet frame. cursor must begin at the
// Ethernet header and end at the end of the frame. Called by the worker
// loop once per frame drained from the adapter (spec.md §5).
func (e *Ethernet) ReceiveFrame(cursor bufferpool.Cursor) {
	if cursor.Size() < HeaderSize {
		printer.Errorf("ethernet: frame ignored: too small to hold a header\n")
		return
	}

	var dhost, shost netutil.MACAddr
	var etherType uint16

	rest := cursor.ReadWith(6, func(b []byte) { dhost = netutil.MACFromBytes(b) })
	rest = rest.ReadWith(6, func(b []byte) { shost = netutil.MACFromBytes(b) })
	rest = rest.ReadWith(2, func(b []byte) { etherType = netutil.NetBytesToNet16(b).Host() })

	if dhost != e.addr && dhost != netutil.BroadcastMAC {
		printer.V(6).Debugf("ethernet: frame from %s ignored: bad recipient %s\n", shost, dhost)
		return
	}

	receiver, ok := e.receivers[etherType]
	if !ok {
		printer.V(6).Debugf("ethernet: frame from %s ignored: unknown type 0x%04x\n", shost, etherType)
		return
	}

	printer.V(6).Debugf("ethernet: frame from %s, type 0x%04x\n", shost, etherType)
	receiver.ReceiveMessage(rest)
}

// SendPayload frames payloadSize bytes written by writer, addressed to dst
// with the given EtherType, and hands the frame to the physical adapter.
func (e *Ethernet) SendPayload(dst netutil.MACAddr, etherType uint16, payloadSize int, writer bufferpool.Writer) error {
	frameSize := HeaderSize + payloadSize
	return e.phys.SendPacket(frameSize, func(c bufferpool.Cursor) {
		c = c.WriteWith(6, func(b []byte) { copy(b, dst.Bytes()) })
		c = c.WriteWith(6, func(b []byte) { copy(b, e.addr.Bytes()) })
		c = c.WriteWith(2, func(b []byte) { netutil.HostToNet16(etherType).PutNet(b) })
		writer(c)
	})
}

// SendARPPayload sends an ARP message. Satisfies arpresolver.DataLink.
func (e *Ethernet) SendARPPayload(dst netutil.MACAddr, size int, writer bufferpool.Writer) error {
	return e.SendPayload(dst, TypeARP, size, writer)
}

// SendIPPayload sends an IPv4 datagram. Called by the IPv4 instance
// registered on this Ethernet through the small interface it defines for
// its own egress needs.
func (e *Ethernet) SendIPPayload(dst netutil.MACAddr, size int, writer bufferpool.Writer) error {
	return e.SendPayload(dst, TypeIPv4, size, writer)
}
