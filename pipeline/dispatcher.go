package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/asyncflow/pkg/worker"
)

// DispatcherConfig holds the dispatcher's admission and publish settings.
type DispatcherConfig struct {
	// DestinationKey is the key results are published under. May be nil.
	DestinationKey []byte
	// MaxInflight bounds outstanding dispatch units, independent of the
	// worker pool size.
	MaxInflight int
}

// Dispatcher spawns one independent dispatch unit per accepted item. Each
// unit offloads the computation to the worker pool, awaits the result, and
// publishes it to the sink; units race freely against each other. Admission
// is bounded by MaxInflight; within the bound Dispatch never waits on any
// individual unit.
type Dispatcher struct {
	pool    *worker.Pool
	sink    Sink
	compute Computation
	key     []byte
	logger  *slog.Logger

	metrics *pipelineMetrics

	admission chan struct{}
	wg        sync.WaitGroup

	// Statistics (atomic)
	inFlight        int64
	dispatched      int64
	published       int64
	publishFailures int64
	offloadFailures int64
}

// NewDispatcher wires a dispatcher over an already-constructed pool, sink,
// and computation. A nil logger falls back to slog.Default().
func NewDispatcher(
	pool *worker.Pool, sink Sink, compute Computation, cfg DispatcherConfig, logger *slog.Logger,
) *Dispatcher {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pool:      pool,
		sink:      sink,
		compute:   compute,
		key:       cfg.DestinationKey,
		logger:    logger,
		admission: make(chan struct{}, cfg.MaxInflight),
	}
}

// Dispatch detaches the item and spawns its dispatch unit, returning without
// waiting for the unit. It blocks only while MaxInflight units are already
// outstanding; cancellation unblocks it with ctx.Err().
func (d *Dispatcher) Dispatch(ctx context.Context, it Item) error {
	select {
	case d.admission <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	detached := it.Detach()
	unitID := uuid.NewString()

	d.wg.Add(1)
	atomic.AddInt64(&d.inFlight, 1)
	atomic.AddInt64(&d.dispatched, 1)
	d.metrics.recordDispatched()

	go d.runUnit(ctx, detached, unitID)
	return nil
}

// runUnit executes one dispatch unit to a terminal state.
func (d *Dispatcher) runUnit(ctx context.Context, it Item, unitID string) {
	start := time.Now()
	state := UnitReceived
	defer func() {
		d.metrics.recordTerminal(state, time.Since(start))
		atomic.AddInt64(&d.inFlight, -1)
		<-d.admission
		d.wg.Done()
	}()

	state = UnitOffloading
	fut, err := worker.Offload(ctx, d.pool, func() ([]byte, error) {
		return d.compute(ctx, it)
	})
	if err != nil {
		state = UnitOffloadFailed
		atomic.AddInt64(&d.offloadFailures, 1)
		d.logger.Error("offload rejected",
			"component", componentName,
			"unit", unitID,
			"offset", it.Offset,
			"error", err)
		return
	}

	result, err := fut.Wait(ctx)
	if err != nil {
		state = UnitOffloadFailed
		atomic.AddInt64(&d.offloadFailures, 1)
		d.logger.Error("computation failed",
			"component", componentName,
			"unit", unitID,
			"offset", it.Offset,
			"error", err)
		return
	}
	state = UnitOffloaded

	state = UnitPublishing
	receipt, err := d.sink.Publish(ctx, d.key, result)
	if err != nil {
		state = UnitPublishFailed
		atomic.AddInt64(&d.publishFailures, 1)
		d.logger.Error("publish failed",
			"component", componentName,
			"unit", unitID,
			"offset", it.Offset,
			"key", string(d.key),
			"payload_bytes", len(result),
			"error", err)
		return
	}

	state = UnitPublished
	atomic.AddInt64(&d.published, 1)
	d.logger.Info("result published",
		"component", componentName,
		"unit", unitID,
		"offset", it.Offset,
		"destination", receipt.Destination,
		"dest_partition", receipt.Partition,
		"dest_offset", receipt.Offset)
}

// Drain waits for all in-flight units to reach a terminal state, up to
// timeout.
func (d *Dispatcher) Drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %d dispatch units still in flight after %v",
			worker.ErrStopTimeout, d.InFlight(), timeout)
	}
}

// InFlight returns the number of live dispatch units.
func (d *Dispatcher) InFlight() int64 {
	return atomic.LoadInt64(&d.inFlight)
}
