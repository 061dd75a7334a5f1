// Command echo runs a netstack instance with a single TCP echo listener:
// every byte a peer sends on the configured port is written straight back,
// in order, over the same connection. It exists to exercise pkg/stack's
// Listen/Accept/Send/Close surface end to end against a real NIC.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rjavaux/netstack/cfg"
	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/adapter/pcapadapter"
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/pkg/stack"
	"github.com/rjavaux/netstack/printer"
)

var (
	configPath string
	port       uint16
	backlog    int
)

var rootCmd = &cobra.Command{
	Use:           "echo",
	Short:         "Run a TCP echo server on the netstack dataplane.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the stack config YAML file (required)")
	rootCmd.Flags().Uint16Var(&port, "port", 7, "TCP port to accept connections on")
	rootCmd.Flags().IntVar(&backlog, "backlog", 16, "maximum pending (not-yet-accepted) connections per worker")
	rootCmd.Flags().BoolVar(new(bool), "debug", false, "enable debug logging")
	viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
	rootCmd.MarkFlagRequired("config")
}

func main() {
	if _, err := rootCmd.ExecuteC(); err != nil {
		printer.Stderr.Errorf("%s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	c, err := cfg.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "echo: loading config")
	}
	printer.Infof("starting echo server: %s port=%d\n", c, port)

	s, err := stack.New(c, func(workerIndex int) (adapter.PhysicalAdapter, error) {
		return pcapadapter.Open(c.LinkName, c.MAC, 65535)
	})
	if err != nil {
		return errors.Wrap(err, "echo: building stack")
	}

	if err := s.Listen(port, backlog); err != nil {
		return errors.Wrap(err, "echo: listen")
	}
	if err := s.Accept(port, acceptEcho); err != nil {
		return errors.Wrap(err, "echo: accept")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s.Start(ctx)
	<-ctx.Done()
	printer.Infoln("echo: shutting down")
	s.Stop()
	return nil
}

// echoHandler mirrors every inbound chunk back to its sender, in order.
// Each Send's writer closes over a copy of the bytes OnData delivered,
// since the cursor backing them is only valid for the duration of the
// OnData call.
type echoHandler struct {
	conn *stack.Conn
}

func acceptEcho(conn *stack.Conn) {
	h := &echoHandler{conn: conn}
	conn.SetHandler(h)
}

func (h *echoHandler) OnData(cursor bufferpool.Cursor) {
	data := append([]byte(nil), cursor.Bytes()...)
	err := h.conn.Send(len(data), func(offset int, dst bufferpool.Cursor) {
		dst.Write(data[offset : offset+dst.Size()])
	}, nil)
	if err != nil {
		printer.V(2).Debugf("echo: send to %s:%d failed: %s\n", h.conn.RemoteAddr(), h.conn.RemotePort(), err)
	}
}

func (h *echoHandler) OnRemoteClose() {
	_ = h.conn.Close()
}

func (h *echoHandler) OnReset() {
	printer.V(2).Debugf("echo: connection from %s:%d reset\n", h.conn.RemoteAddr(), h.conn.RemotePort())
}
