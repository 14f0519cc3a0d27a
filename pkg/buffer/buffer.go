// Package buffer provides a generic, thread-safe ring buffer used for
// bounded staging inside the pipeline, such as per-client send queues.
//
// A buffer has a fixed capacity and a configurable overflow policy: drop
// the oldest item, drop the newest item, or block the writer until a reader
// frees space. Statistics are always collected.
package buffer

import (
	pkgerrors "github.com/c360/asyncflow/errors"
)

// Buffer is a bounded FIFO queue parameterized by item type.
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full, behavior follows the
	// overflow policy. Write fails after Close.
	Write(item T) error

	// Read removes and returns the oldest item. The second return value
	// is false when the buffer is empty.
	Read() (T, bool)

	// ReadBatch removes and returns up to max items, oldest first.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// IsEmpty reports whether the buffer holds no items.
	IsEmpty() bool

	// Clear removes all buffered items.
	Clear()

	// Stats returns the buffer statistics.
	Stats() *Statistics

	// Close marks the buffer closed and wakes any blocked writers.
	// Buffered items remain readable.
	Close() error
}

// OverflowPolicy defines how Write behaves when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the new item and keeps the buffered ones.
	DropNewest

	// Block makes Write wait until a reader frees space.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item discarded by the overflow policy.
// The callback runs outside the buffer lock, so it may safely call back
// into the buffer.
type DropCallback[T any] func(item T)

// Option configures a buffer at construction time.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]
}

// WithOverflowPolicy sets the overflow policy. The default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithDropCallback registers a callback for dropped items.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onDrop = cb
	}
}

// NewCircularBuffer creates a ring buffer with the given capacity.
func NewCircularBuffer[T any](capacity int, opts ...Option[T]) (Buffer[T], error) {
	if capacity < 1 {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Buffer", "New",
			"capacity must be positive")
	}

	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		opt(o)
	}

	return newRing(capacity, o), nil
}
