package tcp

import "github.com/rjavaux/netstack/internal/netutil"

// HeaderSize is the fixed 20-byte TCP header; this stack never generates
// options and tolerates (but ignores, except MSS) options on ingress
// (spec.md §4.5).
const HeaderSize = 20

const dataOffsetWords = HeaderSize / 4

// flags packs the six TCP control bits this stack recognizes.
type flags uint8

const (
	flagFIN flags = 1 << 0
	flagSYN flags = 1 << 1
	flagRST flags = 1 << 2
	flagPSH flags = 1 << 3
	flagACK flags = 1 << 4
	flagURG flags = 1 << 5
)

func (f flags) String() string {
	s := ""
	for _, b := range []struct {
		bit flags
		c   byte
	}{{flagFIN, 'F'}, {flagSYN, 'S'}, {flagRST, 'R'}, {flagPSH, 'P'}, {flagACK, 'A'}, {flagURG, 'U'}} {
		if f&b.bit != 0 {
			s += string(b.c)
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// header is the parsed form of a TCP segment's fixed 20-byte header.
type header struct {
	SourcePort uint16
	DestPort   uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // in 32-bit words, including options
	Flags      flags
	Window     uint16
	Checksum   uint16
	UrgentPtr  uint16
}

// readHeader parses a 20-byte buffer positioned at the start of a TCP
// segment. It does not look past byte 20, so callers must separately read
// any options indicated by DataOffset > 5.
func readHeader(b []byte) header {
	return header{
		SourcePort: netutil.NetBytesToNet16(b[0:2]).Host(),
		DestPort:   netutil.NetBytesToNet16(b[2:4]).Host(),
		Seq:        netutil.NetBytesToNet32(b[4:8]).Host(),
		Ack:        netutil.NetBytesToNet32(b[8:12]).Host(),
		DataOffset: b[12] >> 4,
		Flags:      flags(b[13] & 0x3F),
		Window:     netutil.NetBytesToNet16(b[14:16]).Host(),
		Checksum:   netutil.NetBytesToNet16(b[16:18]).Host(),
		UrgentPtr:  netutil.NetBytesToNet16(b[18:20]).Host(),
	}
}

// put writes the fixed 20-byte header (no options; DataOffset is always
// dataOffsetWords) into b, with the checksum field zeroed — the caller
// computes and patches it in afterward, once the payload is also written.
func (h header) put(b []byte) {
	netutil.HostToNet16(h.SourcePort).PutNet(b[0:2])
	netutil.HostToNet16(h.DestPort).PutNet(b[2:4])
	netutil.HostToNet32(h.Seq).PutNet(b[4:8])
	netutil.HostToNet32(h.Ack).PutNet(b[8:12])
	b[12] = dataOffsetWords << 4
	b[13] = byte(h.Flags)
	netutil.HostToNet16(h.Window).PutNet(b[14:16])
	netutil.HostToNet16(0).PutNet(b[16:18])
	netutil.HostToNet16(h.UrgentPtr).PutNet(b[18:20])
}

// pseudoHeaderSum computes the partial sum of the IPv4 TCP pseudo-header
// (source/dest address, zero, protocol, TCP length) that the checksum is
// computed over but which never appears on the wire (spec.md §4.5).
func pseudoHeaderSum(src, dst netutil.IPv4Addr, tcpLength uint16) netutil.PartialSum {
	var buf [12]byte
	copy(buf[0:4], src.Bytes())
	copy(buf[4:8], dst.Bytes())
	buf[8] = 0
	buf[9] = ProtocolNumber
	netutil.HostToNet16(tcpLength).PutNet(buf[10:12])
	return netutil.SumBytes(buf[:])
}

const (
	mssOptionKind = 2
	mssOptionLen  = 4
	defaultMSS    = 536
)

// parseMSSOption scans a TCP options buffer for the MSS option (kind 2,
// length 4), ignoring every other option kind as spec.md §4.5 requires.
func parseMSSOption(options []byte) (int, bool) {
	i := 0
	for i < len(options) {
		kind := options[i]
		switch kind {
		case 0: // end of option list
			return 0, false
		case 1: // no-op
			i++
			continue
		}
		if i+1 >= len(options) {
			return 0, false
		}
		length := int(options[i+1])
		if length < 2 || i+length > len(options) {
			return 0, false
		}
		if kind == mssOptionKind && length == mssOptionLen {
			return int(netutil.NetBytesToNet16(options[i+2 : i+4]).Host()), true
		}
		i += length
	}
	return 0, false
}

func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }
func seqGT(a, b uint32) bool { return int32(a-b) > 0 }
func seqGE(a, b uint32) bool { return int32(a-b) >= 0 }
