// Package testutil provides scripted pipeline doubles shared by tests.
//
// MockSource replays a fixed script of fetch results and then either
// reports closure or blocks like an idle broker. MockSink records every
// publish and can inject failures. Both are safe for concurrent use.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/asyncflow/pipeline"
)

// FetchResult is one scripted Fetch outcome.
type FetchResult struct {
	Item pipeline.Item
	Err  error
}

// MockSource implements pipeline.Source from a fixed script.
type MockSource struct {
	mu         sync.Mutex
	script     []FetchResult
	pos        int
	holdOpen   bool
	fetchCalls int

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMockSource creates a source that yields the scripted results in order.
// After the script is exhausted, Fetch reports ErrSourceClosed unless
// HoldOpen was called.
func NewMockSource(script ...FetchResult) *MockSource {
	return &MockSource{
		script: script,
		closed: make(chan struct{}),
	}
}

// HoldOpen makes Fetch block after the script runs out, like an idle
// broker, until the source is closed or the context ends.
func (s *MockSource) HoldOpen() *MockSource {
	s.mu.Lock()
	s.holdOpen = true
	s.mu.Unlock()
	return s
}

// Fetch returns the next scripted result.
func (s *MockSource) Fetch(ctx context.Context) (pipeline.Item, error) {
	s.mu.Lock()
	s.fetchCalls++
	if s.pos < len(s.script) {
		r := s.script[s.pos]
		s.pos++
		s.mu.Unlock()
		return r.Item, r.Err
	}
	holdOpen := s.holdOpen
	s.mu.Unlock()

	if !holdOpen {
		return pipeline.Item{}, pipeline.ErrSourceClosed
	}

	select {
	case <-ctx.Done():
		return pipeline.Item{}, ctx.Err()
	case <-s.closed:
		return pipeline.Item{}, pipeline.ErrSourceClosed
	}
}

// Close unblocks any held Fetch. Close is idempotent.
func (s *MockSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// FetchCalls returns how many times Fetch was invoked.
func (s *MockSource) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// PublishedMessage is one recorded sink publish.
type PublishedMessage struct {
	Key     []byte
	Payload []byte
}

// MockSink implements pipeline.Sink by recording publishes in memory.
type MockSink struct {
	mu            sync.Mutex
	entries       []PublishedMessage
	destination   string
	failRemaining int
	failErr       error
	publishCalls  int
	closed        bool
}

// NewMockSink creates an empty recording sink.
func NewMockSink() *MockSink {
	return &MockSink{destination: "mock"}
}

// FailNext makes the next n publishes return err without recording.
func (s *MockSink) FailNext(n int, err error) {
	s.mu.Lock()
	s.failRemaining = n
	s.failErr = err
	s.mu.Unlock()
}

// Publish records the key and payload and returns a receipt whose offset
// is the entry index.
func (s *MockSink) Publish(_ context.Context, key, payload []byte) (pipeline.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.publishCalls++

	if s.closed {
		return pipeline.Receipt{}, fmt.Errorf("mock sink is closed")
	}
	if s.failRemaining > 0 {
		s.failRemaining--
		return pipeline.Receipt{}, s.failErr
	}

	entry := PublishedMessage{
		Key:     append([]byte(nil), key...),
		Payload: append([]byte(nil), payload...),
	}
	s.entries = append(s.entries, entry)

	return pipeline.Receipt{
		Destination: s.destination,
		Partition:   0,
		Offset:      int64(len(s.entries) - 1),
	}, nil
}

// Close marks the sink closed; further publishes fail.
func (s *MockSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of all recorded publishes.
func (s *MockSink) Messages() []PublishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PublishedMessage(nil), s.entries...)
}

// Payloads returns the recorded payloads as strings, in publish order.
func (s *MockSink) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads := make([]string, len(s.entries))
	for i, e := range s.entries {
		payloads[i] = string(e.Payload)
	}
	return payloads
}

// Len returns the number of recorded publishes.
func (s *MockSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PublishCalls returns how many times Publish was invoked, including
// failed attempts.
func (s *MockSink) PublishCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishCalls
}

// Interface checks
var _ pipeline.Source = (*MockSource)(nil)
var _ pipeline.Sink = (*MockSink)(nil)
