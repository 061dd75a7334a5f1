// Package timerwheel implements the per-worker, single-threaded timer
// wheel that TCP retransmission, ARP cache expiry and ARP request timeout
// schedule their callbacks on (spec.md §4.2).
package timerwheel

import (
	"container/heap"
	"time"
)

// TimerID identifies a scheduled callback. It is the expiration cycle
// count the callback is scheduled to run at; Schedule advances past
// collisions so IDs stay unique.
type TimerID uint64

// CycleClock returns the current value of the per-worker CPU cycle
// counter. Production code drives this off a real monotonic clock; tests
// substitute a manually-advanced fake.
type CycleClock func() uint64

// RealCycleClock returns a CycleClock counting nanoseconds since an
// arbitrary epoch, suitable for use with a CyclesPerSec of 1e9.
func RealCycleClock() CycleClock {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start).Nanoseconds())
	}
}

type item struct {
	id    TimerID
	cb    func()
	index int
}

type itemHeap []*item

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Wheel is an expiration-ordered mapping from cycle-counter value to
// callback. It is not safe for concurrent use: each worker owns exactly
// one Wheel and drives it from its own cooperative loop (spec.md §5).
type Wheel struct {
	cyclesPerSec uint64
	clock        CycleClock
	items        map[TimerID]*item
	heap         itemHeap
}

// NewWheel creates a Wheel whose delays (expressed in microseconds to
// Schedule) are converted to cycles using cyclesPerSec.
func NewWheel(cyclesPerSec uint64, clock CycleClock) *Wheel {
	return &Wheel{
		cyclesPerSec: cyclesPerSec,
		clock:        clock,
		items:        make(map[TimerID]*item),
	}
}

// Now returns the wheel's current cycle counter value.
func (w *Wheel) Now() uint64 { return w.clock() }

func (w *Wheel) cyclesFromDelay(delayUs uint64) uint64 {
	return delayUs * w.cyclesPerSec / 1_000_000
}

// Schedule inserts f to run after delayUs microseconds and returns the
// timer's ID (its expiration cycle count). IDs are guaranteed unique:
// collisions are resolved by advancing to the next free cycle.
func (w *Wheel) Schedule(delayUs uint64, f func()) TimerID {
	cycle := w.clock() + w.cyclesFromDelay(delayUs)
	for {
		if _, exists := w.items[TimerID(cycle)]; !exists {
			break
		}
		cycle++
	}
	id := TimerID(cycle)
	it := &item{id: id, cb: f}
	w.items[id] = it
	heap.Push(&w.heap, it)
	return id
}

// Reschedule removes the timer identified by id (if present) and schedules
// its callback again after newDelayUs, returning the new ID. If id is not
// present, Reschedule is a no-op and returns id unchanged.
func (w *Wheel) Reschedule(id TimerID, newDelayUs uint64) TimerID {
	it, ok := w.items[id]
	if !ok {
		return id
	}
	cb := it.cb
	w.removeItem(it)
	return w.Schedule(newDelayUs, cb)
}

// Remove cancels the timer identified by id. Returns whether it was
// present; if so, its callback will not run.
func (w *Wheel) Remove(id TimerID) bool {
	it, ok := w.items[id]
	if !ok {
		return false
	}
	w.removeItem(it)
	return true
}

func (w *Wheel) removeItem(it *item) {
	heap.Remove(&w.heap, it.index)
	delete(w.items, it.id)
}

// Tick runs every callback whose expiration has passed. It must be called
// on every iteration of the worker's cooperative loop (spec.md §5).
// Callbacks may themselves call Schedule/Remove/Reschedule; Tick re-reads
// the head of the heap after every invocation rather than holding a stale
// iterator.
func (w *Wheel) Tick() {
	now := w.clock()
	for {
		if len(w.heap) == 0 {
			return
		}
		next := w.heap[0]
		if uint64(next.id) > now {
			return
		}
		heap.Pop(&w.heap)
		delete(w.items, next.id)
		next.cb()
	}
}

// Len returns the number of timers currently scheduled.
func (w *Wheel) Len() int { return len(w.items) }
