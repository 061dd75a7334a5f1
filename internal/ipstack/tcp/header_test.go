package tcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rjavaux/netstack/internal/netutil"
)

func TestHeaderPutReadRoundTrip(t *testing.T) {
	h := header{
		SourcePort: 1234,
		DestPort:   80,
		Seq:        0xdeadbeef,
		Ack:        0x12345678,
		DataOffset: dataOffsetWords,
		Flags:      flagSYN | flagACK,
		Window:     4096,
		UrgentPtr:  0,
	}

	b := make([]byte, HeaderSize)
	h.put(b)
	got := readHeader(b)

	assert.Equal(t, h.SourcePort, got.SourcePort)
	assert.Equal(t, h.DestPort, got.DestPort)
	assert.Equal(t, h.Seq, got.Seq)
	assert.Equal(t, h.Ack, got.Ack)
	assert.Equal(t, h.DataOffset, got.DataOffset)
	assert.Equal(t, h.Flags, got.Flags)
	assert.Equal(t, h.Window, got.Window)
	assert.Equal(t, uint16(0), got.Checksum, "put zeroes the checksum field for the caller to patch in later")
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "-", flags(0).String())
	assert.Equal(t, "S", flagSYN.String())
	assert.Equal(t, "SA", (flagSYN | flagACK).String())
	assert.Equal(t, "FA", (flagFIN | flagACK).String())
}

func TestParseMSSOption(t *testing.T) {
	opts := []byte{mssOptionKind, mssOptionLen, 0x05, 0xb4} // 1460
	mss, ok := parseMSSOption(opts)
	assert.True(t, ok)
	assert.Equal(t, 1460, mss)
}

func TestParseMSSOptionSkipsNopsAndUnknownKinds(t *testing.T) {
	opts := []byte{
		1,                          // NOP
		1,                          // NOP
		3, 3, 0x07,                 // window scale (kind 3, len 3), ignored
		mssOptionKind, mssOptionLen, 0x02, 0x18, // MSS = 536
	}
	mss, ok := parseMSSOption(opts)
	assert.True(t, ok)
	assert.Equal(t, 536, mss)
}

func TestParseMSSOptionAbsent(t *testing.T) {
	opts := []byte{1, 1, 0}
	_, ok := parseMSSOption(opts)
	assert.False(t, ok)
}

func TestPseudoHeaderSumParticipatesInFullChecksum(t *testing.T) {
	src := netutil.IPv4Addr{10, 0, 0, 1}
	dst := netutil.IPv4Addr{10, 0, 0, 2}

	h := header{SourcePort: 1, DestPort: 2, Flags: flagACK, DataOffset: dataOffsetWords}
	b := make([]byte, HeaderSize)
	h.put(b)

	sum := pseudoHeaderSum(src, dst, HeaderSize).Append(netutil.SumBytes(b))
	checksum := sum.Fold()
	netutil.HostToNet16(checksum).PutNet(b[16:18])

	full := pseudoHeaderSum(src, dst, HeaderSize).Append(netutil.SumBytes(b))
	assert.Zero(t, full.Fold())
}

func TestSeqComparisonsHandleWraparound(t *testing.T) {
	var max uint32 = 0xFFFFFFFF
	assert.True(t, seqLT(max, 0))
	assert.True(t, seqGT(0, max))
	assert.True(t, seqLE(max, max))
	assert.True(t, seqGE(0, 0))
	assert.False(t, seqLT(0, max))
}
