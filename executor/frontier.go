package executor

import "container/heap"

// readyItem is one schedulable node waiting for a dispatch slot.
type readyItem struct {
	nodeID string
	rank   int // workflow.Graph.TopoRank(nodeID), used purely as a tie-breaker
}

// readyHeap is a min-heap over readyItem.rank, adapted from the teacher's
// graph/scheduler.go workHeap (there keyed by a hashed OrderKey; here keyed
// by the graph's precomputed topological rank, since SPEC_FULL.md §4.4
// specifies topo order as the scheduling tie-breaker rather than a
// path-hash order key).
type readyHeap []readyItem

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return h[i].rank < h[j].rank }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(readyItem)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// frontier is the scheduler's ready queue: a priority queue ordered by
// topological rank so dispatch order is deterministic across runs and
// across goroutine scheduling jitter (invariant 1, SPEC_FULL.md §8).
// Unlike the teacher's Frontier, it carries no channel/backpressure
// machinery of its own — concurrency bounding is the executor's semaphore,
// and the frontier only needs to hand back the next node in a fixed order.
type frontier struct {
	h readyHeap
}

func newFrontier() *frontier {
	f := &frontier{}
	heap.Init(&f.h)
	return f
}

func (f *frontier) push(nodeID string, rank int) {
	heap.Push(&f.h, readyItem{nodeID: nodeID, rank: rank})
}

func (f *frontier) pop() (string, bool) {
	if f.h.Len() == 0 {
		return "", false
	}
	item := heap.Pop(&f.h).(readyItem)
	return item.nodeID, true
}

func (f *frontier) len() int { return f.h.Len() }
