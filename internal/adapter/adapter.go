// Package adapter defines the physical adapter contract the core stack is
// deliberately decoupled from (spec.md §4.8): NIC ingress/egress, buffer
// allocation and flow hashing are all external collaborators, not core
// logic. internal/adapter/loopback and internal/adapter/pcapadapter are two
// concrete implementations of it.
package adapter

import (
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
)

// PhysicalAdapter is the boundary between a worker's Ethernet instance and
// whatever delivers and accepts frames: a real NIC queue, a packet capture
// handle, or an in-process loopback used by tests.
//
// TryReceive is pull, not push, by design: the worker's cooperative loop
// (internal/worker) drains exactly one frame per iteration by calling it,
// so a frame is never handed to the Ethernet layer from any goroutine other
// than the worker's own (spec.md §5 — one worker, one goroutine, never
// pre-empted mid-packet). Adapters that capture frames off a separate
// thread (pcapadapter) buffer them internally and hand them over lazily
// when polled.
type PhysicalAdapter interface {
	// Addr is this adapter's own data-link (MAC) address.
	Addr() netutil.MACAddr

	// MaxPacketSize is the largest frame (including Ethernet header) this
	// adapter can send or receive. Every layer above clamps its own
	// payload budget against this (e.g. TCP's MSS clamp, spec.md §9).
	MaxPacketSize() int

	// SendPacket allocates a frame-sized buffer and calls writer to fill
	// it, then hands the frame to the underlying transport. writer must
	// be a pure function of the buffer it is given: the same writer may
	// be invoked again later by a retransmission queue (spec.md §4.5.3).
	SendPacket(size int, writer bufferpool.Writer) error

	// TryReceive returns the next buffered inbound frame, if any, without
	// blocking. The worker loop calls this once per iteration.
	TryReceive() (bufferpool.Cursor, bool)

	// GetCurrentTCPSeq returns a value suitable for seeding a new
	// connection's initial sequence number — a free-running counter (or
	// clock-derived value) the adapter owns so that a restarted stack
	// doesn't reuse sequence numbers too quickly (spec.md §4.5.1).
	GetCurrentTCPSeq() uint32
}
