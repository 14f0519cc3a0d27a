package buffer

import (
	"sync"

	pkgerrors "github.com/c360/asyncflow/errors"
)

// ring is the circular-array implementation behind NewCircularBuffer.
type ring[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	head     int // next write position
	tail     int // next read position
	size     int
	capacity int
	closed   bool
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	stats    *Statistics
}

func newRing[T any](capacity int, o *options[T]) *ring[T] {
	r := &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   o.policy,
		onDrop:   o.onDrop,
		stats:    NewStatistics(),
	}
	r.notFull = sync.NewCond(&r.mu)
	return r
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return pkgerrors.WrapInvalid(pkgerrors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	var dropped T
	var didDrop bool

	if r.size == r.capacity {
		switch r.policy {
		case DropOldest:
			var zero T
			dropped = r.items[r.tail]
			r.items[r.tail] = zero
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			didDrop = true
			r.stats.Overflow()
			r.stats.Drop()

		case DropNewest:
			r.stats.Overflow()
			r.stats.Drop()
			cb := r.onDrop
			r.mu.Unlock()
			if cb != nil {
				cb(item)
			}
			return nil

		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				r.mu.Unlock()
				return pkgerrors.WrapInvalid(pkgerrors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed while blocked")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	cb := r.onDrop
	r.mu.Unlock()

	if didDrop && cb != nil {
		cb(dropped)
	}
	return nil
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	r.notFull.Signal()

	return item, true
}

func (r *ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.size)
	if n <= 0 {
		return nil
	}

	var zero T
	batch := make([]T, 0, n)
	for range n {
		batch = append(batch, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}
	r.stats.UpdateSize(int64(r.size))
	r.notFull.Broadcast()

	return batch
}

func (r *ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity
}

func (r *ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

func (r *ring[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

func (r *ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
	r.stats.UpdateSize(0)
	r.notFull.Broadcast()
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.notFull.Broadcast()
	return nil
}
