package dsa

import (
	"sync"
	"time"
)

// ─── Deadline Queue (Min-Heap) ──────────────────────────────────────────────
// Binary min-heap of jobs ordered by due time, used by the heartbeat
// scheduler to find the next sweep to run.
//
// Operations:
//   Push:    O(log n), sift up (replaces an existing key)
//   Pop:     O(log n), sift down (extract-earliest)
//   PopDue:  O(k log n) for k due items
//   Peek:    O(1)
//   Len:     O(1)
//
// Ties on due time dequeue in insertion order.

// Item is an element in the deadline queue.
type Item struct {
	Key   string    // Unique identifier (e.g. job name)
	Due   time.Time // When the item becomes runnable
	Value any       // Payload (caller stores whatever they need)

	seq uint64
}

// DeadlineQueue is a thread-safe min-heap keyed by due time.
type DeadlineQueue struct {
	mu    sync.Mutex
	heap  []Item
	index map[string]int
	seq   uint64
}

// NewDeadlineQueue creates an empty queue.
func NewDeadlineQueue() *DeadlineQueue {
	return &DeadlineQueue{index: make(map[string]int)}
}

// Push adds an item, or reschedules the item with the same key. O(log n).
func (q *DeadlineQueue) Push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item.seq = q.seq
	if i, ok := q.index[item.Key]; ok {
		q.heap[i] = item
		q.siftUp(i)
		q.siftDown(q.index[item.Key])
		return
	}
	q.heap = append(q.heap, item)
	q.index[item.Key] = len(q.heap) - 1
	q.siftUp(len(q.heap) - 1)
}

// Pop removes and returns the earliest item. O(log n).
// Returns the item and true, or zero-value and false if empty.
func (q *DeadlineQueue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pop()
}

// PopDue removes and returns every item due at or before now, earliest first.
func (q *DeadlineQueue) PopDue(now time.Time) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Item
	for len(q.heap) > 0 && !q.heap[0].Due.After(now) {
		it, _ := q.pop()
		due = append(due, it)
	}
	return due
}

// Peek returns the earliest item without removing it. O(1).
func (q *DeadlineQueue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return Item{}, false
	}
	return q.heap[0], true
}

// Len returns the number of items in the queue.
func (q *DeadlineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *DeadlineQueue) pop() (Item, bool) {
	if len(q.heap) == 0 {
		return Item{}, false
	}
	top := q.heap[0]
	last := len(q.heap) - 1
	q.swap(0, last)
	q.heap = q.heap[:last]
	delete(q.index, top.Key)
	if len(q.heap) > 0 {
		q.siftDown(0)
	}
	return top, true
}

// less returns true if item i should be dequeued before item j.
func (q *DeadlineQueue) less(i, j int) bool {
	if !q.heap[i].Due.Equal(q.heap[j].Due) {
		return q.heap[i].Due.Before(q.heap[j].Due)
	}
	return q.heap[i].seq < q.heap[j].seq
}

func (q *DeadlineQueue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.index[q.heap[i].Key] = i
	q.index[q.heap[j].Key] = j
}

// siftUp restores heap property after insertion.
func (q *DeadlineQueue) siftUp(idx int) {
	for idx > 0 {
		parent := (idx - 1) / 2
		if !q.less(idx, parent) {
			break
		}
		q.swap(idx, parent)
		idx = parent
	}
}

// siftDown restores heap property after extraction.
func (q *DeadlineQueue) siftDown(idx int) {
	n := len(q.heap)
	for {
		smallest := idx
		left := 2*idx + 1
		right := 2*idx + 2

		if left < n && q.less(left, smallest) {
			smallest = left
		}
		if right < n && q.less(right, smallest) {
			smallest = right
		}
		if smallest == idx {
			break
		}
		q.swap(idx, smallest)
		idx = smallest
	}
}
