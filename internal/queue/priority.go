package queue

import (
	"container/heap"
	"sync"

	"github.com/datallboy/nzbleecher/internal/nzb"
)

type item struct {
	seg      *nzb.Segment
	priority int
	seq      uint64
}

type itemHeap []item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

// PriorityQueue is a thread-safe min-heap of segments. Equal priorities are
// served in insertion order.
type PriorityQueue struct {
	mu    sync.Mutex
	items itemHeap
	seq   uint64
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Put adds seg with the given priority.
func (q *PriorityQueue) Put(priority int, seg *nzb.Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, item{seg: seg, priority: priority, seq: q.seq})
}

// TryGet pops the lowest priority segment without blocking.
func (q *PriorityQueue) TryGet() (*nzb.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(item)
	return it.seg, true
}

func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear empties the queue.
func (q *PriorityQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// RemoveFunc drops every segment for which match returns true and reports
// how many were removed.
func (q *PriorityQueue) RemoveFunc(match func(*nzb.Segment) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if match(it.seg) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = item{}
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

// Segments returns a snapshot of the queued segments in no particular order.
func (q *PriorityQueue) Segments() []*nzb.Segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*nzb.Segment, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.seg)
	}
	return out
}
