// Package loopback implements an in-process PhysicalAdapter that either
// queues frames back to its own inbound queue or, once Connect'ed to a
// peer Adapter, forwards them onto the peer's queue. It has no C++
// original counterpart: the reference stack always ran against a real
// mPIPE NIC. It is modeled on the same free-stack-of-fixed-size-buffers
// contract the real driver exposes (driver/mpipe.hpp), and is this stack's
// test double; the cmd binaries do not use it.
package loopback

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/printer"
)

// isnTickNs mirrors the reference driver's 4-microsecond initial sequence
// number clock tick (driver/mpipe.hpp's get_current_tcp_seq).
const isnTickNs = 4000

// defaultQueueDepth bounds how many inbound frames an Adapter buffers
// before it starts dropping, modeling a real NIC ring's finite depth.
const defaultQueueDepth = 256

// Adapter is a PhysicalAdapter backed by a bufferpool.Pool instead of a
// real NIC ring, and a buffered channel instead of a hardware queue.
type Adapter struct {
	addr  netutil.MACAddr
	pool  *bufferpool.Pool
	inbox chan bufferpool.Cursor
	peer  *Adapter
}

// New creates a loopback adapter with its own private buffer pool.
func New(addr netutil.MACAddr, bufSize, bufCount int) *Adapter {
	return &Adapter{
		addr:  addr,
		pool:  bufferpool.NewPool(bufSize, bufCount),
		inbox: make(chan bufferpool.Cursor, defaultQueueDepth),
	}
}

// Connect wires a and other so that frames either sends are queued onto
// the other's inbox, and vice versa. Used to join two independent stack
// instances (e.g. a client and a server) entirely within one process.
func Connect(a, other *Adapter) {
	a.peer = other
	other.peer = a
}

func (a *Adapter) Addr() netutil.MACAddr { return a.addr }

func (a *Adapter) MaxPacketSize() int { return a.pool.BufferSize() }

// SendPacket allocates a frame from this adapter's own pool, lets writer
// fill it, and queues it on the peer's inbox (or this adapter's own inbox,
// if unconnected, for single-instance loopback use). The frame is dropped,
// like a real NIC ring under pressure, if the destination's queue is full.
func (a *Adapter) SendPacket(size int, writer bufferpool.Writer) error {
	c, err := a.pool.Allocate(size)
	if err != nil {
		return errors.Wrap(err, "loopback: send")
	}
	writer(c)

	dest := a.peer
	if dest == nil {
		dest = a
	}

	select {
	case dest.inbox <- c:
	default:
		printer.Errorf("loopback: inbox full, dropping frame\n")
		c.Release()
	}
	return nil
}

// TryReceive dequeues the next frame destined for this adapter, if any.
func (a *Adapter) TryReceive() (bufferpool.Cursor, bool) {
	select {
	case c := <-a.inbox:
		return c, true
	default:
		return bufferpool.Cursor{}, false
	}
}

func (a *Adapter) GetCurrentTCPSeq() uint32 {
	return uint32(time.Now().UnixNano() / isnTickNs)
}
