// Package queue implements the ordered pending-action queues used by the
// scheduler.
//
// A Queue keeps entries sorted ascending by their absolute due point. Entries
// with equal due points come out in insertion order, which client sequences
// rely on when several steps are scheduled for the same instant.
package queue

import (
	"cmp"
	"container/heap"
	"sort"
)

// Entry is a value waiting in a Queue until When is reached.
type Entry[K cmp.Ordered, V any] struct {
	When  K
	Value V

	seq   uint64 // insertion order, breaks ties on When
	index int    // position in the heap, -1 once removed
}

// Queue is a stable priority queue keyed by K. The zero value is empty and
// ready to use. It is not safe for concurrent use.
type Queue[K cmp.Ordered, V any] struct {
	entries entryHeap[K, V]
	nextSeq uint64
}

// Push inserts v due at when. It is placed after every entry whose When is
// less than or equal to when and before the first one that is strictly greater.
func (q *Queue[K, V]) Push(when K, v V) *Entry[K, V] {
	q.nextSeq++
	e := &Entry[K, V]{When: when, Value: v, seq: q.nextSeq}
	heap.Push(&q.entries, e)
	return e
}

// Peek returns the head entry without removing it.
func (q *Queue[K, V]) Peek() (*Entry[K, V], bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return q.entries[0], true
}

// Pop removes and returns the head entry.
func (q *Queue[K, V]) Pop() (*Entry[K, V], bool) {
	if len(q.entries) == 0 {
		return nil, false
	}
	return heap.Pop(&q.entries).(*Entry[K, V]), true
}

// PopDue removes and returns the head entry only if its When is at or
// before now.
func (q *Queue[K, V]) PopDue(now K) (*Entry[K, V], bool) {
	if len(q.entries) == 0 || q.entries[0].When > now {
		return nil, false
	}
	return heap.Pop(&q.entries).(*Entry[K, V]), true
}

// Len returns the number of queued entries.
func (q *Queue[K, V]) Len() int {
	return len(q.entries)
}

// Snapshot returns the queued entries in the order they will be popped.
// The returned entries are copies.
func (q *Queue[K, V]) Snapshot() []Entry[K, V] {
	out := make([]Entry[K, V], len(q.entries))
	for i, e := range q.entries {
		out[i] = *e
	}
	sort.Slice(out, func(i, j int) bool {
		return less(&out[i], &out[j])
	})
	return out
}

func less[K cmp.Ordered, V any](a, b *Entry[K, V]) bool {
	if a.When == b.When {
		return a.seq < b.seq
	}
	return a.When < b.When
}

// entryHeap is a min-heap of entries ordered by When, then insertion order.
type entryHeap[K cmp.Ordered, V any] []*Entry[K, V]

func (h entryHeap[K, V]) Len() int { return len(h) }

func (h entryHeap[K, V]) Less(i, j int) bool { return less(h[i], h[j]) }

func (h entryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap[K, V]) Push(x any) {
	e := x.(*Entry[K, V])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
