package diagnostics

import (
	"math/bits"
	"sync"

	"github.com/rotisserie/eris"
)

// Ring is a bounded ring buffer indexed by a monotonically increasing counter. It is safe for a
// single writer with concurrent readers.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	mask uint64 // cap-1, cap is power of two
	head uint64 // absolute write cursor
}

// NewRing creates a ring buffer with power-of-two capacity.
// If capacity is not a power of two, it is rounded up.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, eris.Errorf("capacity must be > 0, got %d", capacity)
	}
	capacity = roundUpPowerOfTwo(capacity)
	return &Ring[T]{
		buf:  make([]T, capacity),
		mask: uint64(capacity - 1), //nolint:gosec // capacity validated > 0 and power-of-two
	}, nil
}

// Advance writes v into the next slot, overwriting the oldest entry once the ring is full.
func (r *Ring[T]) Advance(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head&r.mask] = v
	r.head++
}

// Len returns the number of valid entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(min(r.head, uint64(len(r.buf)))) //nolint:gosec // bounded by len(buf)
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// SnapshotInto copies all valid entries into dst in chronological order.
// It reuses dst capacity when possible.
func (r *Ring[T]) SnapshotInto(dst []T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.head == 0 {
		return dst[:0]
	}

	start := uint64(0)
	if r.head > uint64(len(r.buf)) {
		start = r.head - uint64(len(r.buf))
	}

	size := int(r.head - start) //nolint:gosec // difference bounded by len(buf)
	if cap(dst) < size {
		dst = make([]T, 0, size)
	} else {
		dst = dst[:0]
	}

	for i := start; i < r.head; i++ {
		dst = append(dst, r.buf[i&r.mask])
	}
	return dst
}

// Reset drops every entry.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buf)
	r.head = 0
}

func roundUpPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1)) //nolint:gosec // n >= 2 at this point
}
