// Command httpd serves a single static HTTP response on every accepted
// connection. It exists to exercise two things pkg/stack's API surface
// doesn't cover on its own: buffering a connection's inbound OnData stream
// until the request headers are complete, and precomputing the static
// response body's Internet-checksum partial sum once at startup. The
// precomputed sum is only logged: the TCP layer still sums each segment's
// payload when it builds the segment checksum.
package main

import (
	"bytes"
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rjavaux/netstack/cfg"
	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/adapter/pcapadapter"
	"github.com/rjavaux/netstack/internal/bufferpool"
	"github.com/rjavaux/netstack/internal/netutil"
	"github.com/rjavaux/netstack/pkg/stack"
	"github.com/rjavaux/netstack/printer"
)

var (
	configPath string
	port       uint16
	backlog    int
	bodyText   string
)

var rootCmd = &cobra.Command{
	Use:           "httpd",
	Short:         "Serve a fixed HTTP response on the netstack dataplane.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the stack config YAML file (required)")
	rootCmd.Flags().Uint16Var(&port, "port", 80, "TCP port to accept connections on")
	rootCmd.Flags().IntVar(&backlog, "backlog", 16, "maximum pending (not-yet-accepted) connections per worker")
	rootCmd.Flags().StringVar(&bodyText, "body", "it works!\n", "static response body")
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

// staticResponse holds one precomputed HTTP response: the full byte image
// ready to send, plus the body's Internet-checksum partial sum computed
// exactly once at construction. bodySum is not passed to Conn.Send; the
// TCP layer computes every segment's checksum over the payload bytes the
// writer produces.
type staticResponse struct {
	bytes   []byte
	bodySum netutil.PartialSum
}

func newStaticResponse(body string) staticResponse {
	b := []byte(body)
	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: " + strconv.Itoa(len(b)) + "\r\n" +
		"Connection: close\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n"

	sum := netutil.SumBytes(b)
	printer.V(3).Debugf("httpd: precomputed body checksum fold=0x%04x (%d bytes)\n", sum.Fold(), len(b))

	buf := make([]byte, 0, len(header)+len(b))
	buf = append(buf, header...)
	buf = append(buf, b...)
	return staticResponse{bytes: buf, bodySum: sum}
}

func run(cmd *cobra.Command, args []string) error {
	c, err := cfg.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "httpd: loading config")
	}
	printer.Infof("starting httpd: %s port=%d\n", c, port)

	resp := newStaticResponse(bodyText)

	s, err := stack.New(c, func(workerIndex int) (adapter.PhysicalAdapter, error) {
		return pcapadapter.Open(c.LinkName, c.MAC, 65535)
	})
	if err != nil {
		return errors.Wrap(err, "httpd: building stack")
	}

	if err := s.Listen(port, backlog); err != nil {
		return errors.Wrap(err, "httpd: listen")
	}
	if err := s.Accept(port, func(conn *stack.Conn) {
		h := &httpHandler{conn: conn, resp: resp}
		conn.SetHandler(h)
	}); err != nil {
		return errors.Wrap(err, "httpd: accept")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s.Start(ctx)
	<-ctx.Done()
	printer.Infoln("httpd: shutting down")
	s.Stop()
	return nil
}

// httpHandler waits for the blank line ("\r\n\r\n") that ends the request
// headers before responding; it ignores the request's method, path and
// headers entirely since every connection gets the same static response.
type httpHandler struct {
	conn    *stack.Conn
	resp    staticResponse
	buf     []byte
	replied bool
}

func (h *httpHandler) OnData(cursor bufferpool.Cursor) {
	if h.replied {
		return
	}
	h.buf = append(h.buf, cursor.Bytes()...)
	if !bytes.Contains(h.buf, []byte("\r\n\r\n")) {
		if len(h.buf) > 8192 {
			printer.V(2).Debugf("httpd: request from %s:%d exceeded header limit, closing\n", h.conn.RemoteAddr(), h.conn.RemotePort())
			_ = h.conn.Close()
		}
		return
	}

	h.replied = true
	body := h.resp.bytes
	err := h.conn.Send(len(body), func(offset int, dst bufferpool.Cursor) {
		dst.Write(body[offset : offset+dst.Size()])
	}, func() {
		_ = h.conn.Close()
	})
	if err != nil {
		printer.V(2).Debugf("httpd: send to %s:%d failed: %s\n", h.conn.RemoteAddr(), h.conn.RemotePort(), err)
	}
}

func (h *httpHandler) OnRemoteClose() {
	_ = h.conn.Close()
}

func (h *httpHandler) OnReset() {
	printer.V(2).Debugf("httpd: connection from %s:%d reset\n", h.conn.RemoteAddr(), h.conn.RemotePort())
}
