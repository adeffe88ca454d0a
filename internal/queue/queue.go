package queue

import (
	"container/heap"
	"sync"
)

// PriorityQueue is a thread-safe queue that releases values in
// ascending rank order. Values sharing a rank come out in insertion
// order, so equal-rank work drains first-in first-out.
type PriorityQueue[T any] struct {
	mu   sync.Mutex
	heap rankedHeap[T]
	seq  uint64
}

// entry pairs a queued value with its rank. seq breaks rank ties in
// favor of the earlier Enqueue.
type entry[T any] struct {
	value T
	rank  int
	seq   uint64
	index int
}

// rankedHeap implements heap.Interface
type rankedHeap[T any] []*entry[T]

func (h rankedHeap[T]) Len() int { return len(h) }

func (h rankedHeap[T]) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h rankedHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *rankedHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *rankedHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil // avoid memory leak
	e.index = -1
	*h = old[:n-1]
	return e
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{heap: make(rankedHeap[T], 0)}
}

// Len reports how many values are queued.
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Enqueue adds a value at the given rank. Lower ranks drain first.
func (q *PriorityQueue[T]) Enqueue(value T, rank int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, &entry[T]{value: value, rank: rank, seq: q.seq})
}

// Dequeue removes and returns the lowest-ranked value. The second
// return is false when the queue is empty.
func (q *PriorityQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&q.heap).(*entry[T]).value, true
}

// DequeueWave removes and returns every value sharing the current
// lowest rank, plus that rank. Callers that run work in rank barriers
// take a wave, finish it, then take the next. The third return is
// false when the queue is empty.
func (q *PriorityQueue[T]) DequeueWave() ([]T, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil, 0, false
	}
	rank := q.heap[0].rank
	var wave []T
	for len(q.heap) > 0 && q.heap[0].rank == rank {
		wave = append(wave, heap.Pop(&q.heap).(*entry[T]).value)
	}
	return wave, rank, true
}
