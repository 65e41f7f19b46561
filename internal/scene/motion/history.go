// Package motion provides the bounded rolling buffers that back per-track
// position, velocity and activity histories.
package motion

// History is a bounded FIFO. Pushing onto a full history evicts the oldest
// entry. The zero value is unusable; create one with NewHistory.
type History[T any] struct {
	items []T
	limit int
}

// NewHistory returns an empty history holding at most limit items.
// A non-positive limit is treated as 1.
func NewHistory[T any](limit int) *History[T] {
	if limit < 1 {
		limit = 1
	}
	return &History[T]{items: make([]T, 0, limit), limit: limit}
}

// Push appends v, evicting the oldest entry when the history is full.
func (h *History[T]) Push(v T) {
	if len(h.items) == h.limit {
		copy(h.items, h.items[1:])
		h.items[len(h.items)-1] = v
		return
	}
	h.items = append(h.items, v)
}

// Len returns the number of stored items.
func (h *History[T]) Len() int { return len(h.items) }

// Cap returns the maximum number of stored items.
func (h *History[T]) Cap() int { return h.limit }

// Last returns the newest item.
func (h *History[T]) Last() (T, bool) {
	var zero T
	if len(h.items) == 0 {
		return zero, false
	}
	return h.items[len(h.items)-1], true
}

// Items returns a copy of the stored items, oldest first.
func (h *History[T]) Items() []T {
	out := make([]T, len(h.items))
	copy(out, h.items)
	return out
}

// Clone returns an independent copy.
func (h *History[T]) Clone() *History[T] {
	c := &History[T]{items: make([]T, len(h.items), h.limit), limit: h.limit}
	copy(c.items, h.items)
	return c
}
