package netutil

import "fmt"

// ARP hardware/protocol type tags (RFC 826 / net/if_arp.h, ETHERTYPE_IP).
const (
	ARPTypeEther uint16 = 1
	ARPTypeIPv4  uint16 = 0x0800
)

// MACAddr is a 6-byte Ethernet data-link address.
type MACAddr [6]byte

// BroadcastMAC is the all-ones Ethernet broadcast address.
var BroadcastMAC = MACAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// AddrLen is the wire length of a MACAddr, used by the generic ARP resolver.
func (MACAddr) AddrLen() int { return 6 }

// ARPType is the ARP hardware type tag for Ethernet.
func (MACAddr) ARPType() uint16 { return ARPTypeEther }

// Bytes returns the address as a byte slice.
func (a MACAddr) Bytes() []byte { return a[:] }

// String renders the address in the standard hex-digits-and-colons notation.
func (a MACAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// MACFromBytes reads a MACAddr out of a 6-byte slice.
func MACFromBytes(b []byte) MACAddr {
	var a MACAddr
	copy(a[:], b)
	return a
}

// IPv4Addr is a 4-byte IPv4 protocol address.
type IPv4Addr [4]byte

// AddrLen is the wire length of an IPv4Addr, used by the generic ARP resolver.
func (IPv4Addr) AddrLen() int { return 4 }

// ARPType is the ARP protocol type tag for IPv4 (same value as its EtherType).
func (IPv4Addr) ARPType() uint16 { return ARPTypeIPv4 }

// Bytes returns the address as a byte slice.
func (a IPv4Addr) Bytes() []byte { return a[:] }

// String renders the address in IPv4 dotted-decimal notation.
func (a IPv4Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// IPv4FromBytes reads an IPv4Addr out of a 4-byte slice.
func IPv4FromBytes(b []byte) IPv4Addr {
	var a IPv4Addr
	copy(a[:], b)
	return a
}

// ParseIPv4 parses a dotted-decimal string into an IPv4Addr.
func ParseIPv4(s string) (IPv4Addr, error) {
	var a, b, c, d int
	n, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d)
	if err != nil || n != 4 {
		return IPv4Addr{}, fmt.Errorf("netutil: invalid IPv4 address %q", s)
	}
	for _, v := range []int{a, b, c, d} {
		if v < 0 || v > 255 {
			return IPv4Addr{}, fmt.Errorf("netutil: invalid IPv4 address %q", s)
		}
	}
	return IPv4Addr{byte(a), byte(b), byte(c), byte(d)}, nil
}

// Addr is the constraint the generic ARP resolver requires of both the
// data-link and protocol address types it is parameterized over.
type Addr interface {
	comparable
	AddrLen() int
	ARPType() uint16
	Bytes() []byte
	String() string
}
