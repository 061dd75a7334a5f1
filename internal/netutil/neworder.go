// Package netutil provides the small, type-level primitives shared by every
// layer of the stack: network byte order wrappers, link/protocol address
// types, and the Internet checksum.
package netutil

import "encoding/binary"

// Net16 holds a 16-bit value in network (big-endian) byte order. Wire
// header fields use Net16/Net32 instead of plain uint16/uint32 so that byte
// order is a property of the type rather than something callers have to
// remember to apply at every read and write.
type Net16 struct {
	b [2]byte
}

// HostToNet16 builds a Net16 from a host-order value.
func HostToNet16(host uint16) Net16 {
	var n Net16
	binary.BigEndian.PutUint16(n.b[:], host)
	return n
}

// NetBytesToNet16 builds a Net16 from bytes already in network order (e.g.
// read off the wire).
func NetBytesToNet16(b []byte) Net16 {
	var n Net16
	copy(n.b[:], b)
	return n
}

// Host returns the value in host byte order.
func (n Net16) Host() uint16 { return binary.BigEndian.Uint16(n.b[:]) }

// PutNet writes the network-order bytes into dst (len(dst) must be >= 2).
func (n Net16) PutNet(dst []byte) { copy(dst, n.b[:]) }

// Net32 holds a 32-bit value in network (big-endian) byte order.
type Net32 struct {
	b [4]byte
}

// HostToNet32 builds a Net32 from a host-order value.
func HostToNet32(host uint32) Net32 {
	var n Net32
	binary.BigEndian.PutUint32(n.b[:], host)
	return n
}

// NetBytesToNet32 builds a Net32 from bytes already in network order.
func NetBytesToNet32(b []byte) Net32 {
	var n Net32
	copy(n.b[:], b)
	return n
}

// Host returns the value in host byte order.
func (n Net32) Host() uint32 { return binary.BigEndian.Uint32(n.b[:]) }

// PutNet writes the network-order bytes into dst (len(dst) must be >= 4).
func (n Net32) PutNet(dst []byte) { copy(dst, n.b[:]) }
