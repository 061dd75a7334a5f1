package stack

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjavaux/netstack/cfg"
	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/adapter/loopback"
	"github.com/rjavaux/netstack/internal/netutil"
)

func TestNewRejectsZeroWorkers(t *testing.T) {
	c := cfg.Config{Workers: 0}
	_, err := New(c, func(int) (adapter.PhysicalAdapter, error) { return nil, nil })
	assert.Error(t, err)
}

func TestListenReplicatesAcrossWorkers(t *testing.T) {
	mac := netutil.MACFromBytes([]byte{0, 0, 0, 0, 0, 1})
	ip := netutil.IPv4Addr{10, 0, 0, 1}
	c := cfg.Config{Workers: 3, MAC: mac, Addr: ip}

	s, err := New(c, func(i int) (adapter.PhysicalAdapter, error) {
		return loopback.New(mac, 1500, 16), nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Listen(80, 4))
	for i, ws := range s.stacks {
		assert.NotPanics(t, func() {
			_ = ws.TCP.Accept(80, func(c *Conn) {})
		}, "worker %d should have the listener registered", i)
	}
}

func TestStartStopShutsDownAllWorkers(t *testing.T) {
	mac := netutil.MACFromBytes([]byte{0, 0, 0, 0, 0, 1})
	ip := netutil.IPv4Addr{10, 0, 0, 1}
	c := cfg.Config{Workers: 2, MAC: mac, Addr: ip}

	s, err := New(c, func(i int) (adapter.PhysicalAdapter, error) {
		return loopback.New(mac, 1500, 16), nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}
