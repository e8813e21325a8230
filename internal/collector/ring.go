package collector

// Ring is a fixed-capacity ring buffer. The oldest entry is evicted
// silently on overflow. Not safe for concurrent use; the worker owns it.
type Ring[T any] struct {
	buf  []T
	head int
	n    int
}

// NewRing allocates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	idx := (r.head + r.n) % len(r.buf)
	r.buf[idx] = v
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	return r.n
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Snapshot copies the buffered entries oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Clear empties the ring.
func (r *Ring[T]) Clear() {
	r.head = 0
	r.n = 0
}

// TrimToLast keeps only the most recent keep entries.
func (r *Ring[T]) TrimToLast(keep int) {
	if keep < 0 {
		keep = 0
	}
	if r.n <= keep {
		return
	}
	drop := r.n - keep
	r.head = (r.head + drop) % len(r.buf)
	r.n = keep
}
