package bufferpool

import (
	"sync"

	"github.com/pkg/errors"
)

// Pool is a fixed-capacity hardware-style buffer free stack: egress and
// ingress buffers are drawn from (and, for managed buffers, returned to) a
// bounded set of fixed-size slabs, modeling the NIC's buffer stack this
// stack's core is deliberately decoupled from (spec.md §4.8).
type Pool struct {
	mu      sync.Mutex
	free    [][]byte
	bufSize int
}

// NewPool preallocates count buffers of bufSize bytes each.
func NewPool(bufSize, count int) *Pool {
	p := &Pool{bufSize: bufSize, free: make([][]byte, 0, count)}
	for i := 0; i < count; i++ {
		p.free = append(p.free, make([]byte, bufSize))
	}
	return p
}

// BufferSize returns the fixed size of every buffer in the pool; this is
// the adapter's max_packet_size() (spec.md §4.8).
func (p *Pool) BufferSize() int { return p.bufSize }

func (p *Pool) push(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf[:cap(buf)])
}

func (p *Pool) pop() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	return buf, true
}

// Allocate draws a buffer able to hold at least size bytes and returns a
// root Cursor over it as a managed descriptor (its last release pushes the
// buffer back onto this pool). Resource exhaustion (a request larger than
// BufferSize(), or an empty free stack) is returned as an error; Allocate
// does not panic or abort, and each caller decides whether to drop or
// propagate it.
func (p *Pool) Allocate(size int) (Cursor, error) {
	if size > p.bufSize {
		return Cursor{}, errors.Errorf("bufferpool: requested %d bytes exceeds max buffer size %d", size, p.bufSize)
	}
	buf, ok := p.pop()
	if !ok {
		return Cursor{}, errors.New("bufferpool: free stack exhausted")
	}
	desc := newDescriptor(p, buf[:size], true)
	return newCursor(desc, desc.buf, nil), nil
}

// AllocateUnmanaged wraps an adapter-owned buffer (e.g. one the NIC will
// free itself after DMA) into a root Cursor whose release() never touches
// this pool's free stack.
func AllocateUnmanaged(buf []byte) Cursor {
	desc := newDescriptor(nil, buf, false)
	return newCursor(desc, desc.buf, nil)
}

// Available reports the number of buffers currently on the free stack,
// primarily for tests and diagnostics.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
