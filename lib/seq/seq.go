package seq

import (
	"container/heap"
	"sync"
	"sync/atomic"
)

// pinHeap is a min-heap over pinned sequence numbers. Several snapshots may
// pin the same sequence, so the heap is a multiset; releases are lazy (see
// Generator.compact) because a release in the middle of the heap does not
// need to be visible until the minimum is asked for.
type pinHeap []uint64

func (h pinHeap) Len() int           { return len(h) }
func (h pinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h pinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *pinHeap) Push(x interface{}) {
	*h = append(*h, x.(uint64))
}

func (h *pinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Generator hands out strictly monotonic sequence numbers and tracks the
// multiset of sequences pinned by live snapshots. One Generator belongs to
// one database instance.
//
// Thread-safety: all methods are safe for concurrent use. The sequence
// counter is atomic; snapshot bookkeeping is guarded by a small mutex.
type Generator struct {
	current atomic.Uint64 // last handed-out sequence; 0 = nothing written yet

	mu       sync.Mutex
	pinned   pinHeap
	released map[uint64]int // release counts not yet matched against the heap
	live     int
}

// NewGenerator creates a Generator whose next sequence is start+1. Reopening
// a database passes the persisted write counter so sequences stay monotonic
// across restarts.
func NewGenerator(start uint64) *Generator {
	g := &Generator{released: make(map[uint64]int)}
	g.current.Store(start)
	return g
}

// NextSequence returns a fresh sequence number.
func (g *Generator) NextSequence() uint64 {
	return g.current.Add(1)
}

// CurrentSequence returns the last handed-out sequence number.
func (g *Generator) CurrentSequence() uint64 {
	return g.current.Load()
}

// MakeSnapshot pins the current sequence and returns the snapshot holding it.
func (g *Generator) MakeSnapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := &Snapshot{gen: g, seq: g.current.Load()}
	heap.Push(&g.pinned, s.seq)
	g.live++
	return s
}

// compact pops heap entries whose pins have all been released, so the top of
// the heap is a sequence some live snapshot still holds. Caller holds mu.
func (g *Generator) compact() {
	for len(g.pinned) > 0 {
		top := g.pinned[0]
		n := g.released[top]
		if n == 0 {
			return
		}
		if n == 1 {
			delete(g.released, top)
		} else {
			g.released[top] = n - 1
		}
		heap.Pop(&g.pinned)
	}
}

// OldestSnapshot returns the smallest pinned sequence and whether any
// snapshot is live at all.
func (g *Generator) OldestSnapshot() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.compact()
	if len(g.pinned) == 0 {
		return 0, false
	}
	return g.pinned[0], true
}

// Empty reports whether no snapshot is live.
func (g *Generator) Empty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live == 0
}

// release unpins one snapshot holding seq.
func (g *Generator) release(seq uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released[seq]++
	g.live--
}

// Snapshot is a pinned sequence number establishing a consistent read view.
type Snapshot struct {
	gen      *Generator
	seq      uint64
	released atomic.Bool
}

// Sequence returns the pinned sequence number.
func (s *Snapshot) Sequence() uint64 {
	return s.seq
}

// Release unpins the snapshot. Idempotent.
func (s *Snapshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.gen.release(s.seq)
	}
}
