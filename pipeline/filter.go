package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// Filter pulls from a Source and discards failed receive attempts so its
// caller sees only successfully received items. It preserves arrival order
// and buffers nothing beyond the one in-flight fetch, so backpressure from
// the caller reaches the source unmodified.
type Filter struct {
	source Source
	logger *slog.Logger

	metrics *pipelineMetrics

	receiveErrors int64
}

// NewFilter wraps source. A nil logger falls back to slog.Default().
func NewFilter(source Source, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		source: source,
		logger: logger,
	}
}

// Next returns the next successfully received item. Transport errors are
// logged at Warn, counted, and skipped. The only non-item returns are
// ErrSourceClosed when the stream ends and the ctx error when cancelled.
func (f *Filter) Next(ctx context.Context) (Item, error) {
	for {
		it, err := f.source.Fetch(ctx)
		if err == nil {
			return it, nil
		}
		if errors.Is(err, ErrSourceClosed) {
			return Item{}, ErrSourceClosed
		}
		if ctx.Err() != nil {
			return Item{}, ctx.Err()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Item{}, err
		}

		atomic.AddInt64(&f.receiveErrors, 1)
		f.metrics.recordReceiveError()
		f.logger.Warn("receive error",
			"component", componentName,
			"error", err)
	}
}

// ReceiveErrors returns the number of transport errors dropped so far.
func (f *Filter) ReceiveErrors() int64 {
	return atomic.LoadInt64(&f.receiveErrors)
}
