// Package tcp implements the TCP transport layer: a connection table keyed
// by the 3-tuple TCBID, a replicated-per-worker listen table with
// accept/pending backlog FIFOs, a transmit queue of lazy writer entries
// with retransmission, and a state machine covering the RFC 793 subset
// spec.md §4.5 names (no connect(), no congestion control, no out-of-order
// reassembly).
//
// The reference implementation this stack otherwise ports closely
// (original_source/net/tcp.hpp) is itself incomplete here: its
// receive_segment only demonstrates the pseudo-header checksum composition
// before unconditionally closing every matched segment with RST, and its
// listen() is an empty stub. Those two routines ground the header/TCB data
// shapes and the checksum idiom; the connection table, listen/accept
// coordination, transmit queue and state machine below are built from
// spec.md §4.5 directly rather than translated line for line.
package tcp

import (
	"github.com/pkg/errors"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/internal/timerwheel"
	"github.com/rjavaux/netstack/printer"
)

// ProtocolNumber is the IPv4 protocol number for TCP. Kept as this
// package's own constant (rather than importing ipv4.ProtocolTCP) for the
// same reason ethernet and ipv4 each define their own dispatch constants:
// importing ipv4 from tcp while ipv4 sends through tcp would be a cycle.
const ProtocolNumber uint8 = 6

const (
	defaultWindowSize uint16 = 65535

	rtoInitialUs uint64 = 1_000_000  // 1s
	rtoMaxUs     uint64 = 60_000_000 // clamp: 60s

	mslUs             uint64 = 30_000_000 // 30s
	defaultTimeWaitUs uint64 = 2 * mslUs
)

type abortReason int

const (
	reasonReset abortReason = iota
	reasonLocalClose
)

// IPv4Sender is what this package needs from the IPv4 layer: its own
// address (for the pseudo-header), the largest payload it can carry, and
// egress. ipv4.IPv4 satisfies this directly.
type IPv4Sender interface {
	Addr() netutil.IPv4Addr
	MaxPayloadSize() int
	SendPayload(dst netutil.IPv4Addr, protocol uint8, payloadSize int, writer bufferpool.Writer) bool
}

// TCP is one worker's TCP instance: an independent connection table and a
// replica of the listen table (spec.md §5 — no TCB migration between
// workers; listen() is only safe to call while workers are quiesced).
type TCP struct {
	ip        IPv4Sender
	timers    *timerwheel.Wheel
	seqSource func() uint32

	conns      map[TCBID]*tcb
	listens    map[uint16]*listenEntry
	timeWaitUs uint64
}

// New creates a TCP instance sending through ip and scheduling retransmit/
// TIME-WAIT timers on timers. seqSource supplies each new connection's
// initial sequence number; adapter.PhysicalAdapter.GetCurrentTCPSeq is the
// production instance (a clock-derived value advancing every 4µs).
func New(ip IPv4Sender, timers *timerwheel.Wheel, seqSource func() uint32) *TCP {
	return &TCP{
		ip:         ip,
		timers:     timers,
		seqSource:  seqSource,
		conns:      make(map[TCBID]*tcb),
		listens:    make(map[uint16]*listenEntry),
		timeWaitUs: defaultTimeWaitUs,
	}
}

// SetTimeWaitUs overrides the default 2*MSL TIME-WAIT duration (spec.md §9
// open item, resolved in SPEC_FULL as a configurable default-60s value).
func (t *TCP) SetTimeWaitUs(us uint64) { t.timeWaitUs = us }

// Listen registers a passive-open listener on port with the given accept
// backlog limit. Not safe to call concurrently with a running worker loop
// (spec.md §4.5's listen table contract).
func (t *TCP) Listen(port uint16, backlog int) error {
	if _, exists := t.listens[port]; exists {
		return errors.Errorf("tcp: port %d already has a listener", port)
	}
	t.listens[port] = &listenEntry{backlog: backlog}
	return nil
}

// Accept registers cb to receive the next connection that reaches
// ESTABLISHED on port, or invokes it immediately (synchronously) if one is
// already waiting in the pending backlog (spec.md §4.5.2).
func (t *TCP) Accept(port uint16, cb AcceptCallback) error {
	listen, ok := t.listens[port]
	if !ok {
		return errors.Errorf("tcp: no listener on port %d", port)
	}
	if len(listen.pendingQueue) > 0 {
		id := listen.pendingQueue[0]
		listen.pendingQueue = listen.pendingQueue[1:]
		cb(&Conn{tcp: t, id: id})
		return nil
	}
	listen.acceptQueue = append(listen.acceptQueue, cb)
	return nil
}

func (t *TCP) setHandler(id TCBID, h Handler) {
	if tb, ok := t.conns[id]; ok {
		tb.handler = h
	}
}

// ReceiveSegment validates and dispatches one inbound TCP segment. cursor
// must begin at the TCP header and end at the end of the segment (the IPv4
// payload). Satisfies ipv4.PayloadReceiver.
func (t *TCP) ReceiveSegment(remote netutil.IPv4Addr, cursor bufferpool.Cursor) {
	if cursor.Size() < HeaderSize {
		printer.Errorf("tcp: segment from %s ignored: too small to hold a header\n", remote)
		return
	}

	tcpLength := uint16(cursor.Size())

	var hdr header
	var headerSum netutil.PartialSum
	rest := cursor.ReadWith(HeaderSize, func(b []byte) {
		hdr = readHeader(b)
		headerSum = netutil.SumBytes(b)
	})

	if int(hdr.DataOffset) < dataOffsetWords {
		printer.Errorf("tcp: segment from %s ignored: invalid data offset\n", remote)
		return
	}
	optsLen := int(hdr.DataOffset)*4 - HeaderSize

	var mss int
	var mssPresent bool
	if optsLen > 0 {
		if rest.Size() < optsLen {
			printer.Errorf("tcp: segment from %s ignored: truncated options\n", remote)
			return
		}
		rest = rest.ReadWith(optsLen, func(b []byte) {
			headerSum = headerSum.Append(netutil.SumBytes(b))
			mss, mssPresent = parseMSSOption(b)
		})
	}

	payloadSum := netutil.Zero
	rest.ForEach(func(b []byte) { payloadSum = payloadSum.Append(netutil.SumBytes(b)) })

	pseudo := pseudoHeaderSum(remote, t.ip.Addr(), tcpLength)
	if pseudo.Append(headerSum).Append(payloadSum).Fold() != 0 {
		printer.Errorf("tcp: segment from %s ignored: invalid checksum\n", remote)
		return
	}

	id := TCBID{RemoteAddr: remote, RemotePort: hdr.SourcePort, LocalPort: hdr.DestPort}

	if tb, ok := t.conns[id]; ok {
		printer.V(6).Debugf("tcp: %s segment flags=%s seq=%d ack=%d (state %s)\n", id, hdr.Flags, hdr.Seq, hdr.Ack, tb.state)
		t.dispatch(tb, hdr, rest)
		return
	}

	if listen, ok := t.listens[hdr.DestPort]; ok && hdr.Flags == flagSYN {
		t.handleListenSYN(listen, id, hdr, mss, mssPresent)
		return
	}

	if hdr.Flags&flagRST == 0 {
		printer.V(6).Debugf("tcp: %s matches no connection or listener, sending RST\n", id)
		t.sendRST(remote, hdr, rest.Size())
	}
}

func (t *TCP) handleListenSYN(listen *listenEntry, id TCBID, hdr header, mss int, mssPresent bool) {
	localMax := t.ip.MaxPayloadSize() - HeaderSize
	segMSS := defaultMSS
	if mssPresent && mss > 0 {
		segMSS = mss
	}
	if segMSS > localMax {
		segMSS = localMax
	}

	iss := t.seqSource()
	tb := &tcb{
		id:    id,
		state: StateSynRcvd,
		rx:    rxWindow{size: defaultWindowSize, next: hdr.Seq + 1},
		tx:    txWindow{size: uint32(hdr.Window), unack: iss, next: iss + 1, enqueued: iss + 1},
		mss:   segMSS,
	}
	t.conns[id] = tb

	printer.V(6).Debugf("tcp: %s SYN received, replying SYN+ACK (iss=%d, mss=%d)\n", id, iss, segMSS)
	t.sendSegment(id.RemoteAddr, id.LocalPort, id.RemotePort, iss, tb.rx.next, flagSYN|flagACK, tb.rx.size, 0, nil)
	t.armRetransmitTimer(tb)
}

// dispatch routes a matched segment to its state's handler. Any state, on
// RST, tears the connection down and reports it (spec.md §4.5's state
// machine table).
func (t *TCP) dispatch(tb *tcb, hdr header, payload bufferpool.Cursor) {
	if hdr.Flags&flagRST != 0 {
		t.abort(tb, reasonReset)
		return
	}

	switch tb.state {
	case StateSynRcvd:
		t.handleSynRcvd(tb, hdr, payload)
	case StateEstablished:
		t.handleEstablished(tb, hdr, payload)
	case StateFinWait1:
		t.handleFinWait1(tb, hdr, payload)
	case StateFinWait2:
		t.handleFinWait2(tb, hdr, payload)
	case StateCloseWait:
		t.processAck(tb, hdr)
	case StateClosing:
		t.handleClosing(tb, hdr)
	case StateLastAck:
		t.handleLastAck(tb, hdr)
	case StateTimeWait:
		if hdr.Flags&flagFIN != 0 {
			// The peer never saw our last ACK; resend it per RFC 793's
			// TIME-WAIT rule without otherwise touching state.
			t.sendAckFor(tb)
		}
	}
}

func (t *TCP) handleSynRcvd(tb *tcb, hdr header, payload bufferpool.Cursor) {
	if hdr.Flags&flagACK == 0 {
		return
	}
	if hdr.Ack != tb.tx.next {
		t.sendRST(tb.id.RemoteAddr, hdr, payload.Size())
		t.abort(tb, reasonReset)
		return
	}

	tb.tx.unack = hdr.Ack
	tb.tx.size = uint32(hdr.Window)
	tb.state = StateEstablished
	if tb.rtoTimer != 0 {
		t.timers.Remove(tb.rtoTimer)
		tb.rtoTimer = 0
	}
	tb.rtoUs = rtoInitialUs

	printer.V(6).Debugf("tcp: %s established\n", tb.id)
	t.onEstablished(tb)

	if payload.Size() > 0 || hdr.Flags&flagFIN != 0 {
		t.handleEstablished(tb, hdr, payload)
	}
}

func (t *TCP) handleEstablished(tb *tcb, hdr header, payload bufferpool.Cursor) {
	if !t.processAck(tb, hdr) {
		return
	}

	inOrder := hdr.Seq == tb.rx.next
	payloadLen := uint32(payload.Size())
	if inOrder && payloadLen > 0 {
		if tb.handler != nil {
			tb.handler.OnData(payload)
		}
		tb.rx.next += payloadLen
	}

	finReceived := false
	if inOrder && hdr.Flags&flagFIN != 0 {
		tb.rx.next++
		tb.state = StateCloseWait
		finReceived = true
		if tb.handler != nil {
			tb.handler.OnRemoteClose()
		}
	}

	if inOrder && (payloadLen > 0 || finReceived) {
		t.sendAckFor(tb)
	}
}

func (t *TCP) handleFinWait1(tb *tcb, hdr header, payload bufferpool.Cursor) {
	if !t.processAck(tb, hdr) {
		return
	}
	ourFinAcked := tb.tx.unack == tb.tx.next

	inOrder := hdr.Seq == tb.rx.next
	payloadLen := uint32(payload.Size())
	if inOrder && payloadLen > 0 {
		if tb.handler != nil {
			tb.handler.OnData(payload)
		}
		tb.rx.next += payloadLen
	}

	peerFin := false
	if inOrder && hdr.Flags&flagFIN != 0 {
		tb.rx.next++
		peerFin = true
		if tb.handler != nil {
			tb.handler.OnRemoteClose()
		}
	}

	switch {
	case ourFinAcked && peerFin:
		t.sendAckFor(tb)
		t.enterTimeWait(tb)
	case ourFinAcked:
		tb.state = StateFinWait2
	case peerFin:
		tb.state = StateClosing
		t.sendAckFor(tb)
	default:
		if inOrder && payloadLen > 0 {
			t.sendAckFor(tb)
		}
	}
}

func (t *TCP) handleFinWait2(tb *tcb, hdr header, payload bufferpool.Cursor) {
	if !t.processAck(tb, hdr) {
		return
	}

	inOrder := hdr.Seq == tb.rx.next
	payloadLen := uint32(payload.Size())
	if inOrder && payloadLen > 0 {
		if tb.handler != nil {
			tb.handler.OnData(payload)
		}
		tb.rx.next += payloadLen
	}

	if inOrder && hdr.Flags&flagFIN != 0 {
		tb.rx.next++
		if tb.handler != nil {
			tb.handler.OnRemoteClose()
		}
		t.sendAckFor(tb)
		t.enterTimeWait(tb)
		return
	}

	if inOrder && payloadLen > 0 {
		t.sendAckFor(tb)
	}
}

func (t *TCP) handleClosing(tb *tcb, hdr header) {
	if !t.processAck(tb, hdr) {
		return
	}
	if tb.tx.unack == tb.tx.next {
		t.enterTimeWait(tb)
	}
}

func (t *TCP) handleLastAck(tb *tcb, hdr header) {
	if !t.processAck(tb, hdr) {
		return
	}
	if tb.tx.unack == tb.tx.next {
		t.closeTCB(tb)
	}
}

// processAck applies the ACK bookkeeping common to every post-handshake
// state: reject acks of data never sent (spec.md §4.5 "ACK of unsent
// data... RST"), otherwise advance snd.unack, retire acknowledged transmit
// queue entries, and keep sending. Returns false if the TCB was aborted.
func (t *TCP) processAck(tb *tcb, hdr header) bool {
	if hdr.Flags&flagACK == 0 {
		return true
	}
	if seqGT(hdr.Ack, tb.tx.next) {
		t.resetTCB(tb)
		t.abort(tb, reasonReset)
		return false
	}

	tb.tx.size = uint32(hdr.Window)

	if seqGT(hdr.Ack, tb.tx.unack) {
		tb.tx.unack = hdr.Ack
		t.popAcked(tb)
		t.afterAckProgress(tb)
		t.trySend(tb)
	}
	return true
}

// popAcked removes transmit queue entries (including their trailing FIN,
// if any) that are now fully covered by snd.unack, running each entry's
// acked callback exactly once (spec.md §4.5.3).
func (t *TCP) popAcked(tb *tcb) {
	for len(tb.txQueue) > 0 {
		entry := tb.txQueue[0]
		end := entry.seq + uint32(entry.size)
		if entry.fin {
			end++
		}
		if !seqGE(tb.tx.unack, end) {
			break
		}
		tb.txQueue = tb.txQueue[1:]
		if entry.acked != nil {
			entry.acked()
		}
	}
}

// afterAckProgress re-arms the retransmit timer if bytes remain
// outstanding, or cancels it and resets the backoff if snd.unack has caught
// up with snd.next (spec.md §4.5.3).
func (t *TCP) afterAckProgress(tb *tcb) {
	if tb.rtoTimer != 0 {
		t.timers.Remove(tb.rtoTimer)
		tb.rtoTimer = 0
	}
	if tb.tx.unack != tb.tx.next {
		tb.rtoTimer = t.timers.Schedule(tb.rtoUs, func() { t.onRTO(tb) })
		return
	}
	tb.rtoUs = rtoInitialUs
}

// send appends a new transmit queue entry and immediately tries to push as
// much of it onto the wire as the window permits (spec.md §4.5.3).
func (t *TCP) send(id TCBID, totalLen int, writer EntryWriter, acked func()) error {
	tb, ok := t.conns[id]
	if !ok {
		return errors.Errorf("tcp: %s: no such connection", id)
	}
	if tb.state != StateEstablished && tb.state != StateCloseWait {
		return errors.Errorf("tcp: %s: not open for sending (state %s)", id, tb.state)
	}

	entry := &txQueueEntry{seq: tb.tx.enqueued, size: totalLen, writer: writer, acked: acked}
	tb.tx.enqueued += uint32(totalLen)
	tb.txQueue = append(tb.txQueue, entry)

	t.trySend(tb)
	return nil
}

func (t *TCP) canSend(id TCBID) int {
	tb, ok := t.conns[id]
	if !ok {
		return 0
	}
	inFlight := tb.tx.enqueued - tb.tx.unack
	if inFlight >= tb.tx.size {
		return 0
	}
	return int(tb.tx.size - inFlight)
}

// close half-closes a connection, enqueuing a FIN-only entry onto the same
// transmit queue data uses so retransmission and acknowledgement of the FIN
// share the data path (spec.md §4.5's ESTABLISHED/CLOSE-WAIT close()
// transitions).
func (t *TCP) close(id TCBID) error {
	tb, ok := t.conns[id]
	if !ok {
		return errors.Errorf("tcp: %s: no such connection", id)
	}

	switch tb.state {
	case StateEstablished:
		tb.state = StateFinWait1
	case StateCloseWait:
		tb.state = StateLastAck
	default:
		return errors.Errorf("tcp: %s: already closing (state %s)", id, tb.state)
	}

	tb.txQueue = append(tb.txQueue, &txQueueEntry{seq: tb.tx.enqueued, fin: true})
	tb.tx.enqueued++
	t.trySend(tb)
	return nil
}

// trySend pushes as much of each not-yet-fully-transmitted queue entry onto
// the wire as the peer's advertised window allows, in order.
func (t *TCP) trySend(tb *tcb) {
	for _, entry := range tb.txQueue {
		for t.sendEntryChunk(tb, entry) {
			t.armRetransmitTimer(tb)
		}
	}
}

// sendEntryChunk transmits the next not-yet-sent chunk of entry (an MSS-
// and-window-limited slice of its data, or its trailing FIN once all its
// data has gone out), returning whether anything new was put on the wire.
func (t *TCP) sendEntryChunk(tb *tcb, entry *txQueueEntry) bool {
	room := int(tb.tx.size) - int(tb.tx.next-tb.tx.unack)
	if room <= 0 {
		return false
	}

	if entry.sentUpTo < entry.size {
		chunk := entry.size - entry.sentUpTo
		if chunk > tb.mss {
			chunk = tb.mss
		}
		if chunk > room {
			chunk = room
		}
		if chunk <= 0 {
			return false
		}
		seq := entry.seq + uint32(entry.sentUpTo)
		offset := entry.sentUpTo
		t.sendDataSegment(tb, seq, false, entry, offset, chunk)
		entry.sentUpTo += chunk
		tb.tx.next = seq + uint32(chunk)
		return true
	}

	if entry.fin && !entry.finSent {
		seq := entry.seq + uint32(entry.size)
		t.sendDataSegment(tb, seq, true, entry, entry.size, 0)
		entry.finSent = true
		tb.tx.next = seq + 1
		return true
	}

	return false
}

// retransmitOldest resends the segment starting at snd.unack, invoking the
// owning entry's writer again at the same offset (spec.md §4.5.3: "the
// writer is invoked again with the same offset and must produce identical
// bytes").
func (t *TCP) retransmitOldest(tb *tcb) {
	for _, entry := range tb.txQueue {
		dataEnd := entry.seq + uint32(entry.size)
		segEnd := dataEnd
		if entry.fin {
			segEnd++
		}
		if seqLT(tb.tx.unack, entry.seq) || seqGE(tb.tx.unack, segEnd) {
			continue
		}
		if seqLT(tb.tx.unack, dataEnd) {
			offset := int(tb.tx.unack - entry.seq)
			chunk := int(dataEnd - tb.tx.unack)
			if chunk > tb.mss {
				chunk = tb.mss
			}
			t.sendDataSegment(tb, tb.tx.unack, false, entry, offset, chunk)
		} else {
			t.sendDataSegment(tb, tb.tx.unack, true, entry, entry.size, 0)
		}
		return
	}
}

func (t *TCP) sendDataSegment(tb *tcb, seq uint32, fin bool, entry *txQueueEntry, offset, length int) {
	fl := flagACK
	if fin {
		fl |= flagFIN
	}
	var writer bufferpool.Writer
	if length > 0 {
		writer = func(c bufferpool.Cursor) { entry.writer(offset, c) }
	}
	t.sendSegment(tb.id.RemoteAddr, tb.id.LocalPort, tb.id.RemotePort, seq, tb.rx.next, fl, tb.rx.size, length, writer)
}

func (t *TCP) sendAckFor(tb *tcb) {
	t.sendSegment(tb.id.RemoteAddr, tb.id.LocalPort, tb.id.RemotePort, tb.tx.next, tb.rx.next, flagACK, tb.rx.size, 0, nil)
}

// sendRST replies to an unmatched or rejected inbound segment per spec.md
// §4.5.1: ack = seg.seq + seg.len + (SYN?1:0) + (FIN?1:0).
func (t *TCP) sendRST(remote netutil.IPv4Addr, hdr header, payloadLen int) {
	segLen := uint32(payloadLen)
	if hdr.Flags&flagSYN != 0 {
		segLen++
	}
	if hdr.Flags&flagFIN != 0 {
		segLen++
	}
	ack := hdr.Seq + segLen
	t.sendSegment(remote, hdr.DestPort, hdr.SourcePort, 0, ack, flagRST|flagACK, 0, 0, nil)
}

// resetTCB sends an RST for an established TCB aborted by local policy
// (backlog full, ack of unsent data) rather than in reply to a specific
// malformed inbound segment.
func (t *TCP) resetTCB(tb *tcb) {
	t.sendSegment(tb.id.RemoteAddr, tb.id.LocalPort, tb.id.RemotePort, tb.tx.next, tb.rx.next, flagRST|flagACK, 0, 0, nil)
}

// sendSegment builds and sends one TCP segment: header, then writer's
// payload (if any), then a checksum computed over the whole thing (pseudo-
// header included) and patched back into the header in place.
func (t *TCP) sendSegment(remote netutil.IPv4Addr, localPort, remotePort uint16, seq, ack uint32, fl flags, window uint16, payloadLen int, writer bufferpool.Writer) bool {
	totalLen := HeaderSize + payloadLen

	return t.ip.SendPayload(remote, ProtocolNumber, totalLen, func(c bufferpool.Cursor) {
		full := c
		rest := c.WriteWith(HeaderSize, func(b []byte) {
			h := header{SourcePort: localPort, DestPort: remotePort, Seq: seq, Ack: ack, DataOffset: dataOffsetWords, Flags: fl, Window: window}
			h.put(b)
		})
		if payloadLen > 0 && writer != nil {
			writer(rest)
		}

		sum := pseudoHeaderSum(t.ip.Addr(), remote, uint16(totalLen))
		full.ForEach(func(b []byte) { sum = sum.Append(netutil.SumBytes(b)) })
		checksum := sum.Fold()

		full.Take(HeaderSize).Drop(16).WriteWith(2, func(b []byte) {
			netutil.HostToNet16(checksum).PutNet(b)
		})
	})
}

// onEstablished runs the passive-accept coordination of spec.md §4.5.2: a
// waiting accept() callback is handed the connection immediately, else it
// joins the pending backlog (subject to the listener's limit), else the
// connection is aborted with RST.
func (t *TCP) onEstablished(tb *tcb) {
	listen, ok := t.listens[tb.id.LocalPort]
	if !ok {
		return
	}

	if len(listen.acceptQueue) > 0 {
		cb := listen.acceptQueue[0]
		listen.acceptQueue = listen.acceptQueue[1:]
		cb(&Conn{tcp: t, id: tb.id})
		return
	}

	if len(listen.pendingQueue) >= listen.backlog {
		printer.Errorf("tcp: %s: accept backlog full, resetting\n", tb.id)
		t.resetTCB(tb)
		t.abort(tb, reasonReset)
		return
	}
	listen.pendingQueue = append(listen.pendingQueue, tb.id)
}

func (t *TCP) armRetransmitTimer(tb *tcb) {
	if tb.rtoTimer != 0 {
		return
	}
	if tb.rtoUs == 0 {
		tb.rtoUs = rtoInitialUs
	}
	tb.rtoTimer = t.timers.Schedule(tb.rtoUs, func() { t.onRTO(tb) })
}

// onRTO fires when the oldest unacknowledged byte's retransmit timer
// expires: resend it (the SYN+ACK in SYN-RCVD, otherwise the oldest
// unacked transmit queue data/FIN), double the backoff up to rtoMaxUs, and
// rearm (spec.md §4.5.3).
func (t *TCP) onRTO(tb *tcb) {
	switch tb.state {
	case StateSynRcvd:
		t.sendSegment(tb.id.RemoteAddr, tb.id.LocalPort, tb.id.RemotePort, tb.tx.unack, tb.rx.next, flagSYN|flagACK, tb.rx.size, 0, nil)
	default:
		t.retransmitOldest(tb)
	}

	tb.rtoUs *= 2
	if tb.rtoUs > rtoMaxUs {
		tb.rtoUs = rtoMaxUs
	}
	tb.rtoTimer = t.timers.Schedule(tb.rtoUs, func() { t.onRTO(tb) })
}

func (t *TCP) enterTimeWait(tb *tcb) {
	tb.state = StateTimeWait
	if tb.rtoTimer != 0 {
		t.timers.Remove(tb.rtoTimer)
		tb.rtoTimer = 0
	}
	tb.timeWaitTimer = t.timers.Schedule(t.timeWaitUs, func() {
		delete(t.conns, tb.id)
	})
}

func (t *TCP) closeTCB(tb *tcb) {
	t.abort(tb, reasonLocalClose)
}

// abort tears a TCB down immediately, cancelling its timers and removing it
// from the connection table. OnReset fires only when the abort was caused
// by an actual reset (incoming RST, or a local policy decision to send
// one) — not on a graceful LAST-ACK completion.
func (t *TCP) abort(tb *tcb, reason abortReason) {
	if tb.rtoTimer != 0 {
		t.timers.Remove(tb.rtoTimer)
	}
	if tb.timeWaitTimer != 0 {
		t.timers.Remove(tb.timeWaitTimer)
	}
	delete(t.conns, tb.id)

	if reason == reasonReset {
		printer.V(6).Debugf("tcp: %s reset\n", tb.id)
		if tb.handler != nil {
			tb.handler.OnReset()
		}
	}
}
