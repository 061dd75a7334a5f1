package tcp

import (
	"fmt"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
)

// TCBID is the TCP connection identifier (spec.md §3's TCB key): the
// 3-tuple of remote address, remote port and local port. The local address
// is implicit — it is always the instance's own IPv4 address.
type TCBID struct {
	RemoteAddr netutil.IPv4Addr
	RemotePort uint16
	LocalPort  uint16
}

func (id TCBID) String() string {
	return fmt.Sprintf("%s:%d<->:%d", id.RemoteAddr, id.RemotePort, id.LocalPort)
}

// State is a TCB's position in the RFC 793 subset this stack implements
// (spec.md §4.5): no SYN-SENT/ESTABLISHED-via-connect, since connect() is
// out of scope.
type State int

const (
	StateListen State = iota
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateSynRcvd:
		return "SYN-RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// EntryWriter fills cursor with the totalLen-entry's bytes starting at
// offset. It must be a pure function of offset: the transmit queue calls it
// again, with the same offset, on retransmission, and the bytes it produces
// must be identical both times (spec.md §4.5.3).
type EntryWriter func(offset int, cursor bufferpool.Cursor)

// txQueueEntry is one enqueued send: a byte range plus the writer that
// fills it lazily, and an optional trailing FIN (a close() call appends a
// zero-length fin-only entry to the same queue so retransmission and
// acknowledgement share one code path for data and the connection close).
type txQueueEntry struct {
	seq    uint32
	size   int
	writer EntryWriter
	acked  func()

	fin bool

	sentUpTo int  // bytes of this entry transmitted at least once
	finSent  bool // whether the trailing FIN has been transmitted at least once
}

// rxWindow is the TCB's receive-side sliding window state.
type rxWindow struct {
	size uint16
	next uint32 // next sequence number expected from the peer
}

// txWindow is the TCB's send-side sliding window state.
type txWindow struct {
	size     uint32 // peer's last-advertised receive window
	unack    uint32 // oldest unacknowledged sequence number
	next     uint32 // next sequence number to place on the wire
	enqueued uint32 // next sequence number to hand out to a new send()
}

// tcb is one TCP connection's control block (spec.md §3).
type tcb struct {
	id    TCBID
	state State

	rx rxWindow
	tx txWindow

	txQueue []*txQueueEntry
	mss     int

	rtoUs    uint64
	rtoTimer timerwheel.TimerID

	timeWaitTimer timerwheel.TimerID

	handler Handler
}
