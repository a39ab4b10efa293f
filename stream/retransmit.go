package stream

import (
	"container/heap"
	"sort"
	"sync"
)

// Event is one outstanding transmission awaiting ACK or declared lost
// (spec §4.3.3): the packet number it was sent under, the byte range
// it carries, and whether more application data followed it in the
// committed sequence at send time.
type Event struct {
	PacketNumber   uint64
	Offset         uint64
	Length         int
	Fin            bool
	FirstSent      int64 // nanoseconds, from the Clock collaborator
	HasMoreAppData bool
}

// eventHeapItem orders pending retransmissions by priority (the PTO
// deadline), tie-breaking on enqueue sequence — the same shape as
// client2/arq.go's TimerQueue usage (priority = deadline, payload =
// opaque item), reimplemented locally on container/heap since the
// teacher's concrete TimerQueue type lives in a package (core/worker's
// sibling) not present in the retrieval pack.
type eventHeapItem struct {
	priority uint64
	seq      uint64
	ev       *Event
}

type eventHeap []*eventHeapItem

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)        { *h = append(*h, x.(*eventHeapItem)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxFreeListBatches bounds the retransmit queue's recycled batch pool
// (spec §4.3.3 "batches are recycled, free-list of up to 32 vectors").
const maxFreeListBatches = 32

// RetransmitQueue is an MPSC queue of retransmission Events held in a
// priority heap keyed by PTO deadline; due events are drained in
// packet-number order. Push has no capacity limit: only the free list
// of []*Event batches, which avoids per-packet allocation on the drain
// path, is bounded (maxFreeListBatches).
type RetransmitQueue struct {
	mu       sync.Mutex
	heap     eventHeap
	seq      uint64
	freeList [][]*Event
}

// NewRetransmitQueue returns an empty retransmission queue.
func NewRetransmitQueue() *RetransmitQueue {
	q := &RetransmitQueue{}
	heap.Init(&q.heap)
	return q
}

// Push enqueues ev to be retransmitted no earlier than deadlineNanos.
func (q *RetransmitQueue) Push(deadlineNanos uint64, ev *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, &eventHeapItem{priority: deadlineNanos, seq: q.seq, ev: ev})
}

// DrainDue pops every event whose deadline is <= nowNanos, returning
// them in packet-number order (events with equal packet numbers keep
// their deadline/enqueue order), reusing a batch from the free list
// when available.
func (q *RetransmitQueue) DrainDue(nowNanos uint64) []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var batch []*Event
	if n := len(q.freeList); n > 0 {
		batch, q.freeList = q.freeList[n-1][:0], q.freeList[:n-1]
	}
	for q.heap.Len() > 0 && q.heap[0].priority <= nowNanos {
		item := heap.Pop(&q.heap).(*eventHeapItem)
		batch = append(batch, item.ev)
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].PacketNumber < batch[j].PacketNumber })
	return batch
}

// Release returns a drained batch to the free list for reuse.
func (q *RetransmitQueue) Release(batch []*Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.freeList) < maxFreeListBatches {
		q.freeList = append(q.freeList, batch[:0])
	}
}

// Len reports the number of outstanding (not yet due) events, for
// tests and metrics.
func (q *RetransmitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Remove drops every queued event with the given packet number (an ACK
// arrived for it before its PTO fired).
func (q *RetransmitQueue) Remove(packetNumber uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.heap[:0]
	for _, item := range q.heap {
		if item.ev.PacketNumber == packetNumber {
			continue
		}
		kept = append(kept, item)
	}
	q.heap = kept
	heap.Init(&q.heap)
}
