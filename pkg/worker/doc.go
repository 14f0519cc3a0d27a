// Package worker provides a bounded worker pool for offloading blocking or
// CPU-heavy computations from async code paths.
//
// # Overview
//
// The worker package implements a fixed-size pool with:
//   - Closure tasks with typed completion futures (Go 1.18+ generics)
//   - A bounded FIFO queue with blocking, context-aware admission
//   - Panic containment (a panicking task fails its future, not the worker)
//   - Graceful drain on Stop with a caller-supplied timeout
//   - Dual-tracking observability (always-on statistics + optional Prometheus metrics)
//
// # Core Concepts
//
// Offload and Futures:
//
// Callers hand the pool a closure and immediately get back a handle for its
// eventual result:
//
//	fut, err := worker.Offload(ctx, pool, func() ([]byte, error) {
//	    return expensiveComputation(payload)
//	})
//	if err != nil {
//	    // Task was never admitted (pool stopped, ctx cancelled)
//	}
//	result, err := fut.Wait(ctx)
//
// The future resolves exactly once. Wait can be called from any goroutine,
// any number of times, and is safe to abandon: cancelling the Wait context
// gives up on the result without cancelling the task.
//
// Blocking Admission:
//
// Offload blocks while the queue is full rather than rejecting work. This
// matches pipelines where every accepted item must be processed: saturation
// slows producers down instead of silently dropping tasks. The block is
// bounded by the caller's context, so an impatient caller can still bail
// out with ctx.Err().
//
// Alternative considered: non-blocking submit returning a queue-full error.
// Rejected because it pushes a retry loop into every caller and turns
// transient saturation into lost work.
//
// Panic Containment:
//
// A panic inside a task is recovered on the worker, recorded with its stack,
// and delivered to the task's future as a *PanicError. The worker goroutine
// survives and keeps serving the queue. Waiters can distinguish panics from
// ordinary task errors with errors.As.
//
// Dual-Tracking Observability:
//
//   - Statistics: ALWAYS tracked using atomic operations, read via Stats()
//   - Metrics: OPTIONAL Prometheus metrics for external monitoring
//
// # Usage
//
// Basic pool:
//
//	pool := worker.NewPool(4, 64)
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(10 * time.Second)
//
//	fut, err := worker.Offload(ctx, pool, func() (string, error) {
//	    return crunch(input)
//	})
//	if err != nil {
//	    return err
//	}
//	out, err := fut.Wait(ctx)
//
// With Prometheus metrics:
//
//	import "github.com/c360/asyncflow/metric"
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewPool(4, 64,
//	    worker.WithMetricsRegistry(registry, "compute_pool"),
//	)
//
//	// Metrics exposed:
//	// - compute_pool_queue_depth (current queue depth)
//	// - compute_pool_busy_workers (workers currently running a task)
//	// - compute_pool_submitted_total (tasks admitted)
//	// - compute_pool_completed_total (tasks finished)
//	// - compute_pool_failed_total (tasks that errored or panicked)
//	// - compute_pool_panics_total (tasks that panicked)
//	// - compute_pool_task_duration_seconds (histogram by status)
//
// Graceful shutdown:
//
//	// Workers finish queued tasks, then exit.
//	if err := pool.Stop(10 * time.Second); err != nil {
//	    if errors.Is(err, worker.ErrStopTimeout) {
//	        log.Println("workers still busy after drain timeout")
//	    }
//	}
//
// # Shutdown Semantics
//
// Stop(timeout) performs a best-effort drain:
//  1. New submissions are rejected with ErrPoolStopped
//  2. Submissions blocked on a full queue unblock with ErrPoolStopped
//  3. Workers finish the running task, then drain the queue
//  4. Stop waits up to timeout and returns ErrStopTimeout if workers remain
//
// Cancelling the Start context is the abrupt path: workers exit after their
// current task without draining, and futures for still-queued tasks never
// resolve. Waiters holding the same context unblock via ctx.Err(), so pair
// abrupt cancellation with context-bound Waits.
//
// # Thread Safety
//
// All public methods are safe for concurrent use:
//
//   - Offload(): Channel semantics, lifecycle check under mutex
//   - Start()/Stop(): Protected by lifecycleMu
//   - Stats(): Atomic loads, no locks required
//   - Future.Wait()/Done(): Channel close semantics, any goroutine
//
// Lifecycle guarantees:
//   - Start() can only be called once
//   - Offload() fails if the pool is not started or already stopped
//   - Stop() is idempotent
//   - Every admitted task either runs or (on abrupt cancellation) is
//     abandoned along with the context that would have awaited it
//
// # Known Limitations
//
//  1. No per-task timeout: bound the work inside the closure
//  2. No priority queues: tasks start strictly in submission order
//  3. No cancellation of queued tasks: admission is a commitment
//  4. Gauge metrics have 1-second granularity (ticker-based)
//  5. No dynamic worker scaling: worker count is fixed at construction
//
// # See Also
//
//   - retry package: For retry logic with exponential backoff
//   - metric package: For shared metrics registration
package worker
