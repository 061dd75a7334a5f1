package tcp

import (
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
)

// Handler receives the events a connection's application-level owner cares
// about: new in-order payload, the peer half-closing, or the connection
// being reset. Set on a Conn with SetHandler once accept() hands it off.
type Handler interface {
	OnData(cursor bufferpool.Cursor)
	OnRemoteClose()
	OnReset()
}

// Conn is the application-facing handle for one TCP connection, handed to
// an AcceptCallback once a TCB reaches ESTABLISHED. It is a thin wrapper
// around the owning *TCP and the connection's TCBID; all actual state lives
// in the TCB the worker's connection table owns.
type Conn struct {
	tcp *TCP
	id  TCBID
}

// ID returns the connection's 3-tuple identifier.
func (c *Conn) ID() TCBID { return c.id }

// RemoteAddr is the peer's IPv4 address.
func (c *Conn) RemoteAddr() netutil.IPv4Addr { return c.id.RemoteAddr }

// RemotePort is the peer's TCP port.
func (c *Conn) RemotePort() uint16 { return c.id.RemotePort }

// LocalPort is the local listening port this connection arrived on.
func (c *Conn) LocalPort() uint16 { return c.id.LocalPort }

// SetHandler installs the handler that receives this connection's inbound
// data, remote-close and reset events. Applications normally call this
// once, synchronously, from inside their AcceptCallback.
func (c *Conn) SetHandler(h Handler) {
	c.tcp.setHandler(c.id, h)
}

// Send enqueues totalLen bytes, filled lazily by writer, for transmission.
// writer may be invoked more than once (retransmission) and must return the
// same bytes for the same offset every time. acked, if non-nil, runs
// exactly once, when the entire entry has been acknowledged.
func (c *Conn) Send(totalLen int, writer EntryWriter, acked func()) error {
	return c.tcp.send(c.id, totalLen, writer, acked)
}

// CanSend returns the number of bytes currently permitted by the peer's
// advertised window that have not yet been enqueued for send.
func (c *Conn) CanSend() int {
	return c.tcp.canSend(c.id)
}

// Close half-closes the connection (sends a FIN), moving it to
// FIN-WAIT-1 (from ESTABLISHED) or LAST-ACK (from CLOSE-WAIT).
func (c *Conn) Close() error {
	return c.tcp.close(c.id)
}
