// Package asyncflow is an asynchronous stream processing pipeline: it
// consumes messages from a broker, runs an expensive computation on a
// bounded worker pool, and publishes results to a sink, all without ever
// blocking the consumer loop on a single slow message.
//
// # Architecture
//
// One control goroutine owns the consume loop. Everything expensive
// happens off that goroutine:
//
//	┌────────┐   ┌────────┐   ┌────────────┐   ┌─────────────┐   ┌──────┐
//	│ Source │──▶│ Filter │──▶│ Dispatcher │──▶│ Worker Pool │──▶│ Sink │
//	└────────┘   └────────┘   └────────────┘   └─────────────┘   └──────┘
//	  Fetch       drop bad      one unit per     bounded CPU       async
//	  blocks      records       message          computation       publish
//
// The Filter discards transport errors so the loop never stops on a bad
// record. The Dispatcher starts one dispatch unit per message, bounded by
// MaxInflight; each unit offloads its computation to the shared worker
// pool, waits for the result, and publishes it. The control loop has
// already moved on to the next message.
//
// Ordering across messages is therefore not preserved: a fast computation
// on message N+1 publishes before a slow one on message N. Per-message
// processing is strictly ordered (fetch, compute, publish).
//
// # Packages
//
//   - pipeline: the core contracts (Source, Sink, Computation) and the
//     Filter/Dispatcher/Pipeline orchestration.
//   - pkg/worker: the bounded worker pool and the Offload bridge that runs
//     blocking work without stalling callers.
//   - input/kafka, input/jetstream: source backends.
//   - output/kafka, output/jetstream, output/httppost, output/websocket:
//     sink backends.
//   - natsclient: managed NATS connection shared by JetStream backends.
//   - config: file loading (JSON/YAML, schema-checked) and validation.
//   - metric, health: Prometheus registry, metrics server, health monitor.
//   - errors: error classification (invalid, transient, fatal) used to
//     decide what is retryable.
//   - pkg/retry: backoff with jitter for connection establishment.
//   - pkg/buffer: bounded ring buffers used for per-client send queues.
//   - testutil: scripted source and recording sink for tests.
//
// # Usage
//
// The cmd/asyncflow binary wires a complete pipeline from flags or a
// config file:
//
//	asyncflow --input-topic events.in --output-topic events.out
//
// Embedding the pipeline directly:
//
//	src, err := kafka.New(kafka.Deps{Config: kafka.Config{
//	    Brokers: []string{"localhost:9092"},
//	    GroupID: "my-group",
//	    Topic:   "events.in",
//	}})
//	// ...
//	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
//	    Source:  src,
//	    Sink:    snk,
//	    Compute: func(ctx context.Context, it pipeline.Item) ([]byte, error) {
//	        return transform(it.Payload)
//	    },
//	})
//	err = p.Run(ctx)
//
// Run returns when the source ends, the context is cancelled, or the
// drain timeout expires with units still outstanding.
package asyncflow
