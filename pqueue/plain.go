package pqueue

import "container/heap"

// plainHeapData adapts PlainHeap to container/heap.Interface.
type plainHeapData[T any] struct {
	items []T
	less  Less[T]
}

func (p *plainHeapData[T]) Len() int            { return len(p.items) }
func (p *plainHeapData[T]) Less(i, j int) bool  { return p.less(p.items[i], p.items[j]) }
func (p *plainHeapData[T]) Swap(i, j int)       { p.items[i], p.items[j] = p.items[j], p.items[i] }
func (p *plainHeapData[T]) Push(x interface{})  { p.items = append(p.items, x.(T)) }
func (p *plainHeapData[T]) Pop() interface{} {
	old := p.items
	n := len(old)
	item := old[n-1]
	p.items = old[:n-1]
	return item
}

// PlainHeap is a min-heap whose elements are never updated in place, only
// inserted and popped. Used for an alert pool's own alert queue: alerts are
// never re-prioritized after insertion, only retried (which re-inserts a
// fresh element with a new nextsend).
type PlainHeap[T any] struct {
	h *plainHeapData[T]
}

// NewPlainHeap creates a plain heap ordered by less.
func NewPlainHeap[T any](less Less[T]) *PlainHeap[T] {
	return &PlainHeap[T]{h: &plainHeapData[T]{less: less}}
}

// Empty reports whether the heap holds no elements.
func (p *PlainHeap[T]) Empty() bool { return p.h.Len() == 0 }

// Len returns the number of elements.
func (p *PlainHeap[T]) Len() int { return p.h.Len() }

// Insert adds an element.
func (p *PlainHeap[T]) Insert(item T) { heap.Push(p.h, item) }

// PeekMin returns the minimum element without removing it.
func (p *PlainHeap[T]) PeekMin() (T, bool) {
	var zero T
	if p.h.Len() == 0 {
		return zero, false
	}
	return p.h.items[0], true
}

// PopMin removes and returns the minimum element.
func (p *PlainHeap[T]) PopMin() (T, bool) {
	var zero T
	if p.h.Len() == 0 {
		return zero, false
	}
	return heap.Pop(p.h).(T), true
}
