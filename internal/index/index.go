package index

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// DefaultCapacity is the initial size of the backing array when none is given.
const DefaultCapacity = 16

var (
	// ErrEmpty is returned by Pop when the heap holds no items.
	ErrEmpty = errors.New("index: heap is empty")

	// ErrNilItem is returned by Push for the zero value of the item type.
	ErrNilItem = errors.New("index: cannot insert nil item")
)

// Heap is a binary min-heap ordered by a caller supplied less function.
// All operations serialize on a single mutex scoped to the heap.
type Heap[T comparable] struct {
	mu    sync.Mutex
	items []T
	count int
	less  func(a, b T) bool
}

// New creates an empty heap with DefaultCapacity.
func New[T comparable](less func(a, b T) bool) *Heap[T] {
	return NewWithCapacity(DefaultCapacity, less)
}

// NewWithCapacity creates an empty heap whose backing array starts at capacity.
// Capacities below 1 are raised to 1.
func NewWithCapacity[T comparable](capacity int, less func(a, b T) bool) *Heap[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Heap[T]{
		items: make([]T, capacity),
		less:  less,
	}
}

// Len returns the number of items in the heap.
func (h *Heap[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Cap returns the size of the backing array.
func (h *Heap[T]) Cap() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Push inserts an item, doubling the backing array when it is full.
func (h *Heap[T]) Push(item T) error {
	var zero T
	if item == zero {
		return ErrNilItem
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == len(h.items) {
		grown := make([]T, len(h.items)*2)
		copy(grown, h.items)
		h.items = grown
	}

	h.items[h.count] = item
	h.count++
	h.siftUp(h.count - 1)
	return nil
}

// Peek returns the minimum item without removing it.
func (h *Heap[T]) Peek() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Pop removes and returns the minimum item.
// Returns ErrEmpty when there is nothing to remove.
func (h *Heap[T]) Pop() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return h.removeAt(0), nil
}

// TryPop is the non-failing variant of Pop.
func (h *Heap[T]) TryPop() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		var zero T
		return zero, false
	}
	return h.removeAt(0), true
}

// PopIf removes and returns the minimum item only when ready reports true for it.
// The check and the removal happen under the same lock.
func (h *Heap[T]) PopIf(ready func(T) bool) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	if h.count == 0 || !ready(h.items[0]) {
		return zero, false
	}
	return h.removeAt(0), true
}

// RemoveWhere removes every item matching the predicate and returns how many
// were removed. The heap property holds for the remaining items.
func (h *Heap[T]) RemoveWhere(match func(T) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	kept := 0
	for i := 0; i < h.count; i++ {
		if match(h.items[i]) {
			continue
		}
		h.items[kept] = h.items[i]
		kept++
	}
	removed := h.count - kept
	for i := kept; i < h.count; i++ {
		h.items[i] = zero
	}
	h.count = kept

	if removed > 0 {
		h.heapify()
	}
	return removed
}

// heapify restores the heap property over the live items. Caller holds the lock.
func (h *Heap[T]) heapify() {
	for i := h.count/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

// FindAll returns a copy of every item matching the predicate, in heap order.
// A nil predicate matches everything.
func (h *Heap[T]) FindAll(match func(T) bool) []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := make([]T, 0, h.count)
	for i := 0; i < h.count; i++ {
		if match == nil || match(h.items[i]) {
			result = append(result, h.items[i])
		}
	}
	return result
}

// Clear drops every item but keeps the backing array.
func (h *Heap[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	var zero T
	for i := 0; i < h.count; i++ {
		h.items[i] = zero
	}
	h.count = 0
}

// removeAt removes the item at position i. Caller holds the lock.
func (h *Heap[T]) removeAt(i int) T {
	var zero T
	item := h.items[i]
	last := h.count - 1

	h.items[i] = h.items[last]
	h.items[last] = zero
	h.count--

	if i < h.count {
		// the moved item can violate the property in either direction
		h.siftDown(i)
		h.siftUp(i)
	}
	return item
}

func (h *Heap[T]) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.items[i], h.items[parent]) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) siftDown(i int) {
	for {
		smallest := i
		left := 2*i + 1
		right := left + 1

		if left < h.count && h.less(h.items[left], h.items[smallest]) {
			smallest = left
		}
		if right < h.count && h.less(h.items[right], h.items[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
