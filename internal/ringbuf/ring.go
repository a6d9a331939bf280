// Package ringbuf provides a bounded, lock-free FIFO for a single producer
// and multiple consumers. The producer never blocks: Push fails fast when the
// buffer is full so the caller can drop instead of stalling the hot path.
// Consumers race on a CAS-guarded tail; each pushed item is observed by
// exactly one Pop.
package ringbuf

import "sync/atomic"

// cacheLine is the typical x86-64 cache line size used for padding.
const cacheLine = 64

// Ring is a bounded SPMC ring buffer. Capacity is rounded up to a power of
// two so index wrapping is a bitwise AND.
type Ring[T any] struct {
	buf  []T
	mask uint64

	// head and tail live on separate cache lines to avoid false sharing
	// between the producer and the consumer pool.
	_    [cacheLine]byte
	head atomic.Uint64 // next write slot, advanced by the producer only
	_    [cacheLine]byte
	tail atomic.Uint64 // next read slot, advanced by consumers via CAS
	_    [cacheLine]byte
}

// New creates a ring buffer holding at least capacity items.
// Minimum usable capacity is 2.
func New[T any](capacity int) *Ring[T] {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &Ring[T]{
		buf:  make([]T, c),
		mask: uint64(c - 1),
	}
}

// Push enqueues item and returns true, or returns false when the buffer is
// full. The item is not written in that case. Single producer only.
func (r *Ring[T]) Push(item T) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[head&r.mask] = item
	r.head.Store(head + 1)
	return true
}

// Pop dequeues the oldest item, or returns false when the buffer is empty.
// Safe for concurrent consumers: the slot is read before the CAS, and a
// consumer that loses the race retries on the next slot.
func (r *Ring[T]) Pop() (T, bool) {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail >= head {
			var zero T
			return zero, false
		}
		v := r.buf[tail&r.mask]
		if r.tail.CompareAndSwap(tail, tail+1) {
			return v, true
		}
	}
}

// Len returns the number of items currently buffered.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Cap returns the buffer capacity after power-of-two rounding.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
