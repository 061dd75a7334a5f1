// Package worker implements the per-worker cooperative loop spec.md §5
// describes: one goroutine, pinned in spirit (if not in practice, absent
// real dataplane core pinning) to a single flow-hash partition, ticking the
// timer wheel and draining at most one inbound frame per iteration with no
// suspension points inside packet processing.
package worker

import (
	"context"
	"sync/atomic"

	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/arpresolver"
	"github.com/rjavaux/netstack/internal/ipstack/ethernet"
	"github.com/rjavaux/netstack/internal/ipstack/ipv4"
	"github.com/rjavaux/netstack/internal/ipstack/tcp"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
)

// Stack bundles one worker's fully-wired layer instances: Ethernet
// dispatches to the ARP resolver and IPv4 by EtherType; IPv4 dispatches to
// TCP by protocol number; TCP sends back down through IPv4, which resolves
// next hops through ARP and frames through Ethernet. This is the concrete
// wiring the reference implementation expresses as nested template
// instantiation (ethernet_t<phys_t> owning an arp_t and ipv4_t member) and
// this stack instead expresses as constructor injection, since none of
// ethernet/ipv4/tcp/arpresolver may import each other without a cycle.
type Stack struct {
	Ethernet *ethernet.Ethernet
	ARP      *arpresolver.Resolver[netutil.MACAddr, netutil.IPv4Addr]
	IPv4     *ipv4.IPv4
	TCP      *tcp.TCP
	Timers   *timerwheel.Wheel
}

// NewStack wires one worker's layer stack over phys, addressed as mac/ip4,
// with an Ethernet-frame budget of phys.MaxPacketSize(). cyclesPerSec scales the
// timer wheel's microsecond delays against clock's cycle counter.
func NewStack(phys adapter.PhysicalAdapter, mac netutil.MACAddr, ip4 netutil.IPv4Addr, cyclesPerSec uint64, clock timerwheel.CycleClock) *Stack {
	timers := timerwheel.NewWheel(cyclesPerSec, clock)

	eth := ethernet.New(phys, mac)
	arp := arpresolver.New[netutil.MACAddr, netutil.IPv4Addr](eth, timers, ipAddrProvider{ip4}, netutil.MACFromBytes, netutil.IPv4FromBytes)
	ip := ipv4.New(eth, arp, ip4, eth.MaxPayloadSize())
	tcpInst := tcp.New(ip, timers, phys.GetCurrentTCPSeq)

	eth.RegisterReceiver(ethernet.TypeARP, arp)
	eth.RegisterReceiver(ethernet.TypeIPv4, ip)
	ip.RegisterReceiver(ipv4.ProtocolTCP, tcpInst)

	return &Stack{Ethernet: eth, ARP: arp, IPv4: ip, TCP: tcpInst, Timers: timers}
}

type ipAddrProvider struct{ addr netutil.IPv4Addr }

func (p ipAddrProvider) Addr() netutil.IPv4Addr { return p.addr }

// SetStaticARPEntry pre-populates the ARP cache, for the one piece of
// inter-worker-replicated shared configuration spec.md §5 names (a global
// static-entry list consulted at init, applied identically to every
// worker's own resolver instance).
func (s *Stack) SetStaticARPEntry(mac netutil.MACAddr, ip netutil.IPv4Addr) {
	s.ARP.SetStaticEntry(mac, ip)
}

// Worker runs one cooperative loop over a Stack and its PhysicalAdapter,
// exactly per spec.md §5: tick timers, then drain at most one inbound frame,
// every iteration, with no suspension points inside either. Stop() is
// observed at the top of the next iteration — there is no pre-emption of
// in-progress packet handling.
type Worker struct {
	phys    adapter.PhysicalAdapter
	stack   *Stack
	running atomic.Bool
}

// New creates a Worker draining phys through stack. The two are expected to
// share the same PhysicalAdapter the Stack's Ethernet instance was built
// over.
func New(phys adapter.PhysicalAdapter, stack *Stack) *Worker {
	return &Worker{phys: phys, stack: stack}
}

// Run executes the cooperative loop until ctx is cancelled or Stop is
// called, whichever comes first. It blocks the calling goroutine; callers
// that want N concurrent workers run N of these each in their own
// goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.running.Store(true)
	for w.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.stack.Timers.Tick()
		if cursor, ok := w.phys.TryReceive(); ok {
			w.stack.Ethernet.ReceiveFrame(cursor)
			cursor.Release()
		}
	}
}

// Stop flips the running flag observed at the top of the next loop
// iteration. It does not interrupt a packet handler already in progress
// (spec.md §5's cancellation model).
func (w *Worker) Stop() {
	w.running.Store(false)
}
