// Package stack is the public surface applications build on: it owns N
// independently-wired worker stacks (spec.md §5 — no TCB migration between
// workers, each with its own connection table and a replica of the listen
// table) and exposes Listen/Accept across all of them as one API.
package stack

import (
	"context"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rjavaux/netstack/cfg"
	"github.com/rjavaux/netstack/internal/adapter"
	"github.com/rjavaux/netstack/internal/ipstack/tcp"
	"github.com/rjavaux/netstack/internal/timerwheel"
	"github.com/rjavaux/netstack/internal/worker"
	"github.com/rjavaux/netstack/printer"
)

// Conn, Handler and AcceptCallback are re-exported from internal/ipstack/tcp
// so applications never need to import an internal package directly.
type (
	Conn           = tcp.Conn
	Handler        = tcp.Handler
	AcceptCallback = tcp.AcceptCallback
)

// AdapterFactory builds one PhysicalAdapter per worker. Production code
// hands every worker an independent pcapadapter.Open on the same
// interface (each gets its own capture handle and inbox); tests hand each
// worker an independent loopback.Adapter.
type AdapterFactory func(workerIndex int) (adapter.PhysicalAdapter, error)

// Stack is the running collection of per-worker layer stacks spec.md §5
// describes: each worker is pinned (best-effort) to its own goroutine,
// sees a disjoint flow-hash partition of inbound traffic, and owns its own
// TCP connection table. Listen calls are replicated, synchronously, to
// every worker — spec.md's contract that listen() is not safe against a
// running worker, so Listen must be called before Start.
type Stack struct {
	cfg     cfg.Config
	workers []*worker.Worker
	stacks  []*worker.Stack

	// InstanceID identifies this running Stack in log lines, the same role
	// a flow's bidirectional ID plays for a single connection: a value to
	// correlate output from N worker goroutines back to one process.
	InstanceID uuid.UUID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires cfg.Workers independent worker stacks, one PhysicalAdapter per
// worker from factory, applying cfg.StaticARP to each worker's resolver.
func New(c cfg.Config, factory AdapterFactory) (*Stack, error) {
	if c.Workers <= 0 {
		return nil, errors.Errorf("stack: workers must be positive, got %d", c.Workers)
	}

	s := &Stack{cfg: c, InstanceID: uuid.New()}
	clock := timerwheel.RealCycleClock()

	for i := 0; i < c.Workers; i++ {
		phys, err := factory(i)
		if err != nil {
			return nil, errors.Wrapf(err, "stack: building adapter for worker %d", i)
		}

		ws := worker.NewStack(phys, c.MAC, c.Addr, cyclesPerSec, clock)
		for _, entry := range c.StaticARP {
			ws.SetStaticARPEntry(entry.MAC, entry.IPv4)
		}

		s.stacks = append(s.stacks, ws)
		s.workers = append(s.workers, worker.New(phys, ws))
	}

	return s, nil
}

// cyclesPerSec scales RealCycleClock's nanosecond counter to the
// microsecond delays timerwheel.Wheel.Schedule expects.
const cyclesPerSec = 1_000_000_000

// Listen registers a passive-open listener on port, with the given accept
// backlog, on every worker (spec.md §5's replicated listen table). Must be
// called before Start.
func (s *Stack) Listen(port uint16, backlog int) error {
	for i, ws := range s.stacks {
		if err := ws.TCP.Listen(port, backlog); err != nil {
			return errors.Wrapf(err, "stack: worker %d", i)
		}
	}
	return nil
}

// Accept registers cb on every worker's listener for port. Because a flow
// hash assigns a given connection to exactly one worker, cb may be invoked
// concurrently from different worker goroutines once Start is running;
// implementations must not assume single-threaded delivery across workers
// (spec.md §5 — only a single connection's own events are serialized, by
// the worker that owns its TCB).
func (s *Stack) Accept(port uint16, cb AcceptCallback) error {
	for i, ws := range s.stacks {
		if err := ws.TCP.Accept(port, cb); err != nil {
			return errors.Wrapf(err, "stack: worker %d", i)
		}
	}
	return nil
}

// Start runs every worker's cooperative loop in its own goroutine. It
// returns immediately; call Stop (or cancel ctx) to shut down.
func (s *Stack) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	printer.V(1).Debugf("stack %s: starting %d workers\n", s.InstanceID, len(s.workers))
	for i, w := range s.workers {
		s.wg.Add(1)
		core := s.cfg.StartCore
		go func(i int, w *worker.Worker) {
			defer s.wg.Done()
			if core >= 0 {
				// Best-effort only: LockOSThread pins this goroutine to one
				// OS thread, which the host scheduler may still migrate
				// across cores. Real dataplane pinning is out of this
				// stack's scope (spec.md §1).
				runtime.LockOSThread()
				printer.V(3).Debugf("worker %d: locked to OS thread (requested core %d)\n", i, core+i)
			}
			w.Run(ctx)
		}(i, w)
	}
}

// Stop signals every worker to exit at the top of its next loop iteration
// and waits for them to do so.
func (s *Stack) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, w := range s.workers {
		w.Stop()
	}
	s.wg.Wait()
}
