// Package arpresolver implements ARP (RFC 826) as a resolver generic over
// any data-link and protocol address pair, mirroring the way the reference
// implementation parameterizes its ARP environment over a data-link layer
// and a protocol layer rather than hard-coding Ethernet-over-IPv4 (spec.md
// §4.4). In Go the parameterization is expressed with type parameters
// instead of template arguments.
package arpresolver

import (
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
	"github.com/rjavaux/netstack/printer"
)

// ARP opcodes (RFC 826).
const (
	opRequest uint16 = 1
	opReply   uint16 = 2
)

// entryTimeoutUs is how long a resolved cache entry is kept before it must
// be refreshed by another exchange.
const entryTimeoutUs = 3600 * 1000000

// requestTimeoutUs is how long a pending resolution waits for a reply
// before its callbacks are run with a nil address.
const requestTimeoutUs = 5 * 1000000

const fixedHeaderSize = 8 // hrd, pro, hln, pln, op

// DataLink is the data-link layer collaborator a Resolver sends ARP
// payloads through. It mirrors data_link_t in the reference implementation:
// the resolver only needs the layer's own address and a way to broadcast or
// unicast an ARP payload.
type DataLink[D netutil.Addr] interface {
	Addr() D
	Broadcast() D
	SendARPPayload(dst D, size int, write bufferpool.Writer) error
}

// Proto is the protocol layer collaborator: the resolver only needs to know
// the protocol layer's own address, to answer requests directed at it.
type Proto[P netutil.Addr] interface {
	Addr() P
}

// Callback receives the resolved data-link address, or nil if the
// resolution timed out without a reply.
type Callback[D netutil.Addr] func(addr *D)

type cacheEntry[D netutil.Addr] struct {
	addr  D
	timer timerwheel.TimerID
}

type pendingEntry[D netutil.Addr] struct {
	callbacks []Callback[D]
	timer     timerwheel.TimerID
}

// Resolver maps protocol addresses to data-link addresses for one data-link
// instance, caching resolved entries and coalescing concurrent lookups of
// the same address into a single broadcast request (spec.md §4.4).
//
// A Resolver is not safe for concurrent use. Each worker owns the Resolver
// for the interfaces it drives and calls into it only from its own
// cooperative loop (spec.md §5); cross-worker lookups are expected to be
// routed through worker-owned channels, not by sharing a Resolver.
type Resolver[D netutil.Addr, P netutil.Addr] struct {
	dataLink DataLink[D]
	proto    Proto[P]
	timers   *timerwheel.Wheel

	dlFromBytes    func([]byte) D
	protoFromBytes func([]byte) P

	// cache and pending hold disjoint sets of protocol addresses: an
	// address is either resolved (in cache) or being resolved (in
	// pending), never both.
	cache   map[P]cacheEntry[D]
	pending map[P]*pendingEntry[D]
}

// New creates a Resolver for the given data-link and protocol layer
// instances. dlFromBytes/protoFromBytes parse a wire-format address out of
// a byte slice of the appropriate AddrLen; netutil.MACFromBytes and
// netutil.IPv4FromBytes are the concrete instances this stack uses.
func New[D netutil.Addr, P netutil.Addr](
	dataLink DataLink[D],
	timers *timerwheel.Wheel,
	proto Proto[P],
	dlFromBytes func([]byte) D,
	protoFromBytes func([]byte) P,
) *Resolver[D, P] {
	return &Resolver[D, P]{
		dataLink:       dataLink,
		proto:          proto,
		timers:         timers,
		dlFromBytes:    dlFromBytes,
		protoFromBytes: protoFromBytes,
		cache:          make(map[P]cacheEntry[D]),
		pending:        make(map[P]*pendingEntry[D]),
	}
}

// messageSize is the wire size of an ARP message for this Resolver's
// address types.
func (r *Resolver[D, P]) messageSize() int {
	var zd D
	var zp P
	return fixedHeaderSize + 2*zd.AddrLen() + 2*zp.AddrLen()
}

// ReceiveMessage processes an ARP message starting at cursor, which must
// hold exactly the data-link frame's payload (no data-link headers). It is
// called by the data-link layer when it dispatches a frame carrying this
// resolver's ARP EtherType (spec.md §4.7).
func (r *Resolver[D, P]) ReceiveMessage(cursor bufferpool.Cursor) {
	var zd D
	var zp P

	if cursor.Size() < fixedHeaderSize {
		printer.Errorf("arp: message too small to hold the fixed-size header\n")
		return
	}
	if cursor.Size() < r.messageSize() {
		printer.Errorf("arp: message too small to hold a full ARP message\n")
		return
	}

	var hrd, pro, op uint16
	var hln, pln uint8
	rest := cursor.ReadWith(fixedHeaderSize, func(b []byte) {
		hrd = netutil.NetBytesToNet16(b[0:2]).Host()
		pro = netutil.NetBytesToNet16(b[2:4]).Host()
		hln = b[4]
		pln = b[5]
		op = netutil.NetBytesToNet16(b[6:8]).Host()
	})

	if hrd != zd.ARPType() {
		printer.Errorf("arp: message ignored: unexpected hardware type %d\n", hrd)
		return
	}
	if pro != zp.ARPType() {
		printer.Errorf("arp: message ignored: unexpected protocol type %d\n", pro)
		return
	}
	if int(hln) != zd.AddrLen() {
		printer.Errorf("arp: message ignored: unexpected hardware address length %d\n", hln)
		return
	}
	if int(pln) != zp.AddrLen() {
		printer.Errorf("arp: message ignored: unexpected protocol address length %d\n", pln)
		return
	}
	if op != opRequest && op != opReply {
		printer.Errorf("arp: message ignored: unknown opcode %d\n", op)
		return
	}

	var sha, tha D
	var spa, tpa P
	rest = rest.ReadWith(zd.AddrLen(), func(b []byte) { sha = r.dlFromBytes(b) })
	rest = rest.ReadWith(zp.AddrLen(), func(b []byte) { spa = r.protoFromBytes(b) })
	rest = rest.ReadWith(zd.AddrLen(), func(b []byte) { tha = r.dlFromBytes(b) })
	rest.ReadWith(zp.AddrLen(), func(b []byte) { tpa = r.protoFromBytes(b) })

	switch op {
	case opRequest:
		printer.V(6).Debugf("arp: request from %s (%s)\n", spa.String(), sha.String())
		r.cacheUpdate(sha, spa)
		if tpa == r.proto.Addr() {
			r.sendMessage(opReply, sha, spa)
		}
	case opReply:
		printer.V(6).Debugf("arp: reply from %s (%s)\n", spa.String(), sha.String())
		r.cacheUpdate(sha, spa)
	}
}

// sendMessage builds and pushes an ARP message to the data-link layer.
func (r *Resolver[D, P]) sendMessage(op uint16, tha D, tpa P) {
	var zd D
	var zp P

	sha := r.dataLink.Addr()
	spa := r.proto.Addr()

	err := r.dataLink.SendARPPayload(tha, r.messageSize(), func(c bufferpool.Cursor) {
		c = c.WriteWith(fixedHeaderSize, func(b []byte) {
			netutil.HostToNet16(zd.ARPType()).PutNet(b[0:2])
			netutil.HostToNet16(zp.ARPType()).PutNet(b[2:4])
			b[4] = byte(zd.AddrLen())
			b[5] = byte(zp.AddrLen())
			netutil.HostToNet16(op).PutNet(b[6:8])
		})
		c = c.WriteWith(zd.AddrLen(), func(b []byte) { copy(b, sha.Bytes()) })
		c = c.WriteWith(zp.AddrLen(), func(b []byte) { copy(b, spa.Bytes()) })
		c = c.WriteWith(zd.AddrLen(), func(b []byte) { copy(b, tha.Bytes()) })
		c.WriteWith(zp.AddrLen(), func(b []byte) { copy(b, tpa.Bytes()) })
	})
	if err != nil {
		printer.Errorf("arp: failed to send message: %v\n", err)
	}
}

// WithDataLinkAddr resolves proto to a data-link address and invokes
// callback with it. The callback runs synchronously, before
// WithDataLinkAddr returns, if the address is already cached; otherwise it
// is deferred until a reply arrives or the resolution times out, in which
// case callback is invoked with a nil address.
//
// Returns true if the callback already ran (cache hit), false if it was
// deferred.
func (r *Resolver[D, P]) WithDataLinkAddr(proto P, callback Callback[D]) bool {
	if entry, ok := r.cache[proto]; ok {
		addr := entry.addr
		callback(&addr)
		return true
	}

	if entry, ok := r.pending[proto]; ok {
		entry.callbacks = append(entry.callbacks, callback)
		return false
	}

	entry := &pendingEntry[D]{callbacks: []Callback[D]{callback}}
	entry.timer = r.timers.Schedule(requestTimeoutUs, func() {
		r.removePendingRequest(proto)
	})
	r.pending[proto] = entry

	r.sendMessage(opRequest, r.dataLink.Broadcast(), proto)
	return false
}

// removePendingRequest drops the pending entry for proto, running its
// callbacks with a nil address (the request timed out). Does not unschedule
// the timer; called from the timer's own callback.
func (r *Resolver[D, P]) removePendingRequest(proto P) {
	entry, ok := r.pending[proto]
	if !ok {
		return
	}
	delete(r.pending, proto)

	printer.V(6).Debugf("arp: resolution of %s timed out\n", proto.String())
	for _, cb := range entry.callbacks {
		cb(nil)
	}
}

// cacheUpdate records or refreshes a protocol-to-data-link address mapping,
// resetting its expiration timer. If the address had pending lookups
// waiting on it, they are resolved with the new mapping.
func (r *Resolver[D, P]) cacheUpdate(dataLinkAddr D, protoAddr P) {
	timerID := r.timers.Schedule(entryTimeoutUs, func() {
		r.removeCacheEntry(protoAddr)
	})

	existing, existed := r.cache[protoAddr]
	if existed {
		if existing.addr != dataLinkAddr {
			printer.V(6).Debugf(
				"arp: updates %s cache entry to %s (was %s)\n",
				protoAddr.String(), dataLinkAddr.String(), existing.addr.String(),
			)
		}
		r.timers.Remove(existing.timer)
		r.cache[protoAddr] = cacheEntry[D]{addr: dataLinkAddr, timer: timerID}
		return
	}

	printer.V(6).Debugf("arp: new cache entry (%s is %s)\n", protoAddr.String(), dataLinkAddr.String())
	r.cache[protoAddr] = cacheEntry[D]{addr: dataLinkAddr, timer: timerID}

	pending, ok := r.pending[protoAddr]
	if !ok {
		return
	}
	r.timers.Remove(pending.timer)
	delete(r.pending, protoAddr)

	// Callbacks are invoked only after the pending entry has been removed:
	// a callback that itself calls WithDataLinkAddr for the same address
	// must see a cache hit, not re-enter the pending branch.
	for _, cb := range pending.callbacks {
		addr := dataLinkAddr
		cb(&addr)
	}
}

// removeCacheEntry drops the cache entry for proto. Called from the entry's
// expiration timer.
func (r *Resolver[D, P]) removeCacheEntry(proto P) {
	if _, ok := r.cache[proto]; !ok {
		return
	}
	printer.V(6).Debugf("arp: cache entry for %s expired\n", proto.String())
	delete(r.cache, proto)
}

// SetStaticEntry seeds the cache with a permanent mapping that never
// expires on its own: it is refreshed with a fresh ENTRY_TIMEOUT-length
// timer indefinitely by re-arming itself, so lookups of well-known peers
// (e.g. a gateway configured out of band) never trigger a broadcast. This
// has no equivalent operation in the reference ARP environment, which
// always resolves through the wire; it is a supplementary feature modeled
// on the static ARP entries the stack's original configuration loader
// installed at startup.
func (r *Resolver[D, P]) SetStaticEntry(dataLinkAddr D, protoAddr P) {
	var rearm func()
	rearm = func() {
		timerID := r.timers.Schedule(entryTimeoutUs, func() { rearm() })
		entry := r.cache[protoAddr]
		entry.addr = dataLinkAddr
		if entry.timer != 0 {
			r.timers.Remove(entry.timer)
		}
		entry.timer = timerID
		r.cache[protoAddr] = entry
	}
	rearm()
}
