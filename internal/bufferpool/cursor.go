package bufferpool

// Writer fills a Cursor of a size the caller already fixed (by calling
// Pool.Allocate with the right size before invoking it). Every layer's
// egress path is built on this shape instead of returning a built packet,
// so the same writer closure can be handed to a retransmission queue and
// called again on retransmit without re-running the logic that decided
// what to send (spec.md §4.5.3).
type Writer func(Cursor)

// Cursor is a logically immutable iterator over a possibly-chained buffer.
// Every navigation method returns a new Cursor; the receiver is never
// mutated, so callers can freely backtrack by holding onto an earlier
// Cursor value (spec.md §4.1).
//
// Invariant: cur has zero length only when the cursor is wholly empty
// (there is no following buffer). Crossing a buffer boundary is always
// performed eagerly by normalize, so a non-empty Cursor's cur slice always
// starts at a real, readable byte.
type Cursor struct {
	desc *Descriptor
	cur  []byte

	next     *Cursor
	nextSize int
}

func newCursor(desc *Descriptor, data []byte, next *Cursor) Cursor {
	size := 0
	if next != nil {
		size = next.Size()
	}
	return Cursor{desc: desc, cur: data, next: next, nextSize: size}
}

// NewChainedCursor builds a cursor over data whose buffer continues into
// next once data is exhausted. Used by adapters that deliver hardware
// buffer chains.
func NewChainedCursor(desc *Descriptor, data []byte, next *Cursor) Cursor {
	return newCursor(desc, data, next).normalize()
}

// normalize collapses the cursor onto the first non-empty segment, per the
// "current_size == 0 only when the cursor is empty" invariant.
func (c Cursor) normalize() Cursor {
	for len(c.cur) == 0 && c.next != nil {
		c = *c.next
	}
	return c
}

// Size returns the total number of remaining bytes across the whole chain.
func (c Cursor) Size() int {
	return len(c.cur) + c.nextSize
}

// Empty reports whether the cursor has no remaining bytes.
func (c Cursor) Empty() bool {
	return c.Size() == 0
}

// Can reports whether a copying read/write of n bytes can proceed without
// running past the end of the cursor.
func (c Cursor) Can(n int) bool {
	return n >= 0 && n <= c.Size()
}

// CanInPlace reports whether an in-place operation of n bytes can proceed
// without crossing into the next buffer of the chain.
func (c Cursor) CanInPlace(n int) bool {
	c = c.normalize()
	return n >= 0 && n <= len(c.cur)
}

// Take returns a cursor over the first min(n, c.Size()) bytes of c.
func (c Cursor) Take(n int) Cursor {
	if n <= 0 {
		return Cursor{}
	}
	c = c.normalize()
	if n <= len(c.cur) {
		return Cursor{desc: c.desc, cur: c.cur[:n]}
	}
	if c.next == nil {
		return c
	}
	remaining := n - len(c.cur)
	tail := c.next.Take(remaining)
	return Cursor{desc: c.desc, cur: c.cur, next: &tail, nextSize: tail.Size()}
}

// Drop returns a cursor advanced by min(n, c.Size()) bytes.
func (c Cursor) Drop(n int) Cursor {
	cur := c.normalize()
	for n > 0 && !cur.Empty() {
		avail := len(cur.cur)
		if n < avail {
			cur.cur = cur.cur[n:]
			return cur
		}
		n -= avail
		if cur.next == nil {
			return Cursor{}
		}
		cur = cur.next.normalize()
	}
	return cur
}

// Read copies len(dst) bytes out of the cursor into dst and returns the
// advanced cursor. Precondition: c.Can(len(dst)).
func (c Cursor) Read(dst []byte) Cursor {
	n := len(dst)
	if !c.Can(n) {
		panic("bufferpool: Read past end of cursor")
	}
	cur := c.normalize()
	off := 0
	for off < n {
		take := len(cur.cur)
		if take > n-off {
			take = n - off
		}
		copy(dst[off:off+take], cur.cur[:take])
		off += take
		cur.cur = cur.cur[take:]
		cur = cur.normalize()
	}
	return cur
}

// Write copies src into the cursor's buffer(s) and returns the advanced
// cursor. Precondition: c.Can(len(src)).
func (c Cursor) Write(src []byte) Cursor {
	n := len(src)
	if !c.Can(n) {
		panic("bufferpool: Write past end of cursor")
	}
	cur := c.normalize()
	off := 0
	for off < n {
		take := len(cur.cur)
		if take > n-off {
			take = n - off
		}
		copy(cur.cur[:take], src[off:off+take])
		off += take
		cur.cur = cur.cur[take:]
		cur = cur.normalize()
	}
	return cur
}

// InPlace hands out the n contiguous bytes starting at the cursor inside
// the current buffer, without copying, plus the cursor advanced by n.
// Precondition: c.CanInPlace(n).
func (c Cursor) InPlace(n int) ([]byte, Cursor) {
	if !c.CanInPlace(n) {
		panic("bufferpool: InPlace crosses a buffer boundary or the end of the cursor")
	}
	c = c.normalize()
	buf := c.cur[:n]
	return buf, c.Drop(n)
}

// ReadWith calls f with n bytes read from the cursor: directly, without
// copying, when they are contiguous in the current buffer; otherwise via a
// bounced scratch copy. Returns the cursor advanced by n.
func (c Cursor) ReadWith(n int, f func([]byte)) Cursor {
	if c.CanInPlace(n) {
		buf, rest := c.InPlace(n)
		f(buf)
		return rest
	}
	scratch := make([]byte, n)
	rest := c.Read(scratch)
	f(scratch)
	return rest
}

// WriteWith calls f with an n-byte buffer for the caller to fill: the
// cursor's own memory when contiguous, otherwise scratch space that is
// copied in afterwards. Returns the cursor advanced by n.
func (c Cursor) WriteWith(n int, f func([]byte)) Cursor {
	if c.CanInPlace(n) {
		buf, rest := c.InPlace(n)
		f(buf)
		return rest
	}
	scratch := make([]byte, n)
	f(scratch)
	return c.Write(scratch)
}

// ForEach visits each contiguous segment of the cursor in order.
func (c Cursor) ForEach(f func([]byte)) {
	cur := c.normalize()
	for !cur.Empty() {
		if len(cur.cur) > 0 {
			f(cur.cur)
		}
		if cur.next == nil {
			return
		}
		cur = cur.next.normalize()
	}
}

// Retain marks the underlying descriptor as referenced by one more owner
// (e.g. a closure that outlives the call which received this cursor). Pair
// with exactly one Release from that new owner.
func (c Cursor) Retain() Cursor {
	if c.desc != nil {
		c.desc.retain()
	}
	if c.next != nil {
		c.next.Retain()
	}
	return c
}

// Release drops this cursor's (and its chain's) reference to the
// underlying buffer descriptor(s). Call exactly once per Retain (including
// the implicit retain a cursor holds when it is first constructed by
// Pool.Allocate/AllocateUnmanaged/NewChainedCursor).
func (c Cursor) Release() {
	if c.desc != nil {
		c.desc.release()
	}
	if c.next != nil {
		c.next.Release()
	}
}

// Bytes materializes the cursor's remaining bytes into a freshly allocated
// slice. Intended for logs, tests, and other non-hot-path consumers; hot
// paths should prefer ReadWith/ForEach to avoid the copy.
func (c Cursor) Bytes() []byte {
	out := make([]byte, 0, c.Size())
	c.ForEach(func(seg []byte) {
		out = append(out, seg...)
	})
	return out
}
