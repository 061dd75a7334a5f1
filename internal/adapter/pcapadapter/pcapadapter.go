//go:build linux

// Package pcapadapter implements a PhysicalAdapter over a real network
// interface using libpcap (captures require CAP_NET_RAW or root, hence the
// build tag restricting this adapter to linux). Modeled on the teacher's
// own pcap capture wrapper (pcap/pcap.go's capturePackets): a background
// goroutine drains gopacket's packet channel into a bounded inbox, and the
// worker loop drains that inbox one frame per iteration via TryReceive.
package pcapadapter

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/printer"
)

// isnTickNs mirrors the reference driver's 4-microsecond initial sequence
// number clock tick (driver/mpipe.hpp's get_current_tcp_seq).
const isnTickNs = 4000

// defaultQueueDepth bounds the inbox the capture goroutine feeds; beyond
// this the adapter drops frames like a real NIC ring under pressure.
const defaultQueueDepth = 1024

// Adapter captures and injects frames on a single network interface.
type Adapter struct {
	addr   netutil.MACAddr
	handle *pcap.Handle
	pool   *bufferpool.Pool
	inbox  chan bufferpool.Cursor
	snap   int
	done   chan struct{}
}

// Open starts capturing on ifaceName. addr is this stack instance's own
// MAC address on that interface (not discovered from the interface itself,
// matching the reference driver's explicit-address configuration). snapLen
// bounds both the capture snapshot length and the egress buffer size.
func Open(ifaceName string, addr netutil.MACAddr, snapLen int) (*Adapter, error) {
	handle, err := pcap.OpenLive(ifaceName, int32(snapLen), true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "pcapadapter: open %s", ifaceName)
	}

	a := &Adapter{
		addr:   addr,
		handle: handle,
		pool:   bufferpool.NewPool(snapLen, defaultQueueDepth),
		inbox:  make(chan bufferpool.Cursor, defaultQueueDepth),
		snap:   snapLen,
		done:   make(chan struct{}),
	}
	go a.captureLoop()
	return a, nil
}

func (a *Adapter) captureLoop() {
	source := gopacket.NewPacketSource(a.handle, a.handle.LinkType())
	packets := source.Packets()
	for {
		select {
		case <-a.done:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			data := pkt.Data()
			c, err := a.pool.Allocate(len(data))
			if err != nil {
				printer.Errorf("pcapadapter: dropping frame: %v\n", err)
				continue
			}
			c.Write(data)

			select {
			case a.inbox <- c:
			default:
				printer.Errorf("pcapadapter: inbox full, dropping frame\n")
				c.Release()
			}
		}
	}
}

func (a *Adapter) Addr() netutil.MACAddr { return a.addr }

func (a *Adapter) MaxPacketSize() int { return a.snap }

// SendPacket allocates an egress buffer, fills it, and writes the raw frame
// bytes out through the pcap handle.
func (a *Adapter) SendPacket(size int, writer bufferpool.Writer) error {
	c, err := a.pool.Allocate(size)
	if err != nil {
		return errors.Wrap(err, "pcapadapter: send")
	}
	writer(c)
	data := c.Bytes()
	c.Release()

	if err := a.handle.WritePacketData(data); err != nil {
		return errors.Wrap(err, "pcapadapter: write")
	}
	return nil
}

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

// Close stops the capture goroutine and releases the pcap handle.
func (a *Adapter) Close() error {
	close(a.done)
	a.handle.Close()
	return nil
}
