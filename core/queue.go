package core

import "time"

const defaultQueueCap = 16

// Node is an entry that can be ordered by a MinHeap. Entries are compared by
// SortIndex first and ID second, so equal sort keys keep insertion order as
// long as IDs are assigned monotonically.
type Node interface {
	SortIndex() time.Duration
	ID() uint64
}

// =============================================================================
// MinHeap: array-backed binary heap ordered by (SortIndex, ID)
// =============================================================================

// MinHeap is not safe for concurrent use; the scheduler guards its heaps
// with its own mutex.
type MinHeap[T Node] struct {
	items []T
}

func NewMinHeap[T Node]() *MinHeap[T] {
	return &MinHeap[T]{items: make([]T, 0, defaultQueueCap)}
}

func (h *MinHeap[T]) Len() int { return len(h.items) }

func (h *MinHeap[T]) IsEmpty() bool { return len(h.items) == 0 }

// Peek returns the smallest entry without removing it.
func (h *MinHeap[T]) Peek() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Push inserts node and sifts it up from the last position.
func (h *MinHeap[T]) Push(node T) {
	h.items = append(h.items, node)
	h.siftUp(node, len(h.items)-1)
}

// Pop removes and returns the smallest entry. Popping an empty heap returns
// the zero value and false.
func (h *MinHeap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items)
	if n == 0 {
		return zero, false
	}

	first := h.items[0]
	last := h.items[n-1]
	h.items[n-1] = zero // release the reference held by the backing array
	h.items = h.items[:n-1]
	if n > 1 {
		h.items[0] = last
		h.siftDown(last, 0)
	}
	return first, true
}

// Clear drops every entry.
func (h *MinHeap[T]) Clear() {
	h.items = make([]T, 0, defaultQueueCap)
}

// Each calls fn for every entry in heap (not sorted) order.
func (h *MinHeap[T]) Each(fn func(T)) {
	for _, item := range h.items {
		fn(item)
	}
}

func (h *MinHeap[T]) siftUp(node T, i int) {
	index := i
	for index > 0 {
		parentIndex := (index - 1) / 2
		parent := h.items[parentIndex]
		if compareNodes(parent, node) <= 0 {
			return
		}
		h.items[parentIndex] = node
		h.items[index] = parent
		index = parentIndex
	}
}

func (h *MinHeap[T]) siftDown(node T, i int) {
	index := i
	length := len(h.items)
	halfLength := length / 2
	for index < halfLength {
		leftIndex := 2*index + 1
		left := h.items[leftIndex]
		rightIndex := leftIndex + 1

		// The left child wins ties; the right child only when strictly smaller.
		if compareNodes(left, node) < 0 {
			if rightIndex < length && compareNodes(h.items[rightIndex], left) < 0 {
				h.items[index] = h.items[rightIndex]
				h.items[rightIndex] = node
				index = rightIndex
			} else {
				h.items[index] = left
				h.items[leftIndex] = node
				index = leftIndex
			}
		} else if rightIndex < length && compareNodes(h.items[rightIndex], node) < 0 {
			h.items[index] = h.items[rightIndex]
			h.items[rightIndex] = node
			index = rightIndex
		} else {
			return
		}
	}
}

func compareNodes[T Node](a, b T) int {
	if a.SortIndex() != b.SortIndex() {
		if a.SortIndex() < b.SortIndex() {
			return -1
		}
		return 1
	}
	switch {
	case a.ID() < b.ID():
		return -1
	case a.ID() > b.ID():
		return 1
	}
	return 0
}
