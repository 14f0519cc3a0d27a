package buffer

import "sync/atomic"

// Statistics tracks buffer activity. All methods are safe for concurrent
// use; counters only ever increase except CurrentSize.
type Statistics struct {
	writes      atomic.Int64
	reads       atomic.Int64
	overflows   atomic.Int64
	drops       atomic.Int64
	currentSize atomic.Int64
	maxSize     atomic.Int64
}

// NewStatistics creates an empty statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a successful write.
func (s *Statistics) Write() {
	s.writes.Add(1)
}

// Read records a successful read.
func (s *Statistics) Read() {
	s.reads.Add(1)
}

// Overflow records a write that hit a full buffer.
func (s *Statistics) Overflow() {
	s.overflows.Add(1)
}

// Drop records an item discarded by the overflow policy.
func (s *Statistics) Drop() {
	s.drops.Add(1)
}

// UpdateSize records the current buffer size and tracks the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.currentSize.Store(size)
	for {
		maxSeen := s.maxSize.Load()
		if size <= maxSeen || s.maxSize.CompareAndSwap(maxSeen, size) {
			return
		}
	}
}

// Writes returns the total number of successful writes.
func (s *Statistics) Writes() int64 {
	return s.writes.Load()
}

// Reads returns the total number of successful reads.
func (s *Statistics) Reads() int64 {
	return s.reads.Load()
}

// Overflows returns the number of writes that found the buffer full.
func (s *Statistics) Overflows() int64 {
	return s.overflows.Load()
}

// Drops returns the number of items discarded by the overflow policy.
func (s *Statistics) Drops() int64 {
	return s.drops.Load()
}

// CurrentSize returns the most recently recorded buffer size.
func (s *Statistics) CurrentSize() int64 {
	return s.currentSize.Load()
}

// MaxSize returns the high-water mark of the buffer size.
func (s *Statistics) MaxSize() int64 {
	return s.maxSize.Load()
}

// DropRate returns the fraction of writes that resulted in a drop.
func (s *Statistics) DropRate() float64 {
	attempts := s.writes.Load() + s.drops.Load()
	if attempts == 0 {
		return 0
	}
	return float64(s.drops.Load()) / float64(attempts)
}
