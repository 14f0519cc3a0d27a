// Package pipeline implements an asynchronous stream-processing loop: pull
// items from a broker subscription, filter out transport errors, offload a
// blocking computation per item to a bounded worker pool, and publish each
// result to an output destination without ever stalling the pull loop.
//
// # Architecture
//
// Four pieces compose the pipeline:
//
//   - Source / Sink: the external contracts. A Source yields inbound Items
//     (Fetch); a Sink delivers computed payloads (Publish) and returns a
//     Receipt. Backends live in input/... and output/...
//   - Filter: a pull transform that logs, counts, and discards failed
//     receive attempts so the loop only ever sees good items, end-of-stream
//     (ErrSourceClosed), or cancellation.
//   - Dispatcher: spawns one dispatch unit (goroutine) per item. The unit
//     owns a detached copy of its item, runs the computation on the shared
//     worker pool via worker.Offload, then publishes the result. Units race
//     freely; output order is not input order.
//   - Pipeline: the single control goroutine driving pull, filter, dispatch.
//     It owns the worker pool and the shutdown drain.
//
// Data flow:
//
//	broker -> Source.Fetch -> Filter -> Dispatcher -> worker pool -> Sink -> broker
//
// The control goroutine blocks only in Fetch and in dispatch admission.
// Computation and publishing always happen on dispatch units and pool
// workers, so a slow computation or a slow destination never stops the
// stream from advancing.
//
// # Bounded Concurrency
//
// Two independent bounds keep resources in check:
//
//   - MaxInflight caps the number of outstanding dispatch units. Dispatch
//     blocks (ctx-aware) when the cap is reached, applying backpressure to
//     the pull loop instead of accumulating goroutines.
//   - The worker pool caps concurrently running computations (Workers) and
//     queued ones (QueueSize). A unit whose computation cannot be queued yet
//     simply waits its turn; nothing is dropped.
//
// # Failure Handling
//
// Failures are contained at the smallest scope that can handle them:
//
//   - Transport receive errors: dropped by the Filter with a Warn log and a
//     counter. The loop pulls again.
//   - Computation errors and panics: the unit logs, counts, and terminates
//     in UnitOffloadFailed. Sibling units and the loop are unaffected.
//   - Publish errors: the unit logs the destination key and payload size,
//     counts, and terminates in UnitPublishFailed. The payload is not
//     requeued and the loop keeps running.
//
// Only end-of-stream and cancellation stop the loop. On either, the
// pipeline stops pulling, drains outstanding units for up to DrainTimeout,
// and stops the pool.
//
// # Usage
//
//	p, err := pipeline.New(pipeline.Config{
//	    Workers:        8,
//	    MaxInflight:    512,
//	    DestinationKey: "some key",
//	}, pipeline.Deps{
//	    Source:  src,
//	    Sink:    dst,
//	    Compute: func(ctx context.Context, it pipeline.Item) ([]byte, error) {
//	        return transform(it.Payload)
//	    },
//	    Logger:  logger,
//	    Metrics: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	return p.Run(ctx)
//
// Run returns nil when the source reports end-of-stream, ctx.Err() on
// cancellation, and a drain error when units had to be abandoned at
// shutdown.
package pipeline
