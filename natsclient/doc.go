// Package natsclient manages NATS connections for the stream backends,
// wrapping the raw nats.go client with status tracking, a circuit
// breaker, health monitoring, and JetStream helpers.
//
// # Overview
//
// A Client owns one NATS connection and the JetStream context derived
// from it. The jetstream source and sink backends share a client per
// process so connection state, backoff, and metrics are tracked in one
// place.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("asyncflow"),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Circuit Breaker
//
// Connection and JetStream failures feed a failure counter. After the
// threshold (default 5) the circuit opens: operations fail fast with
// errors.ErrCircuitOpen instead of hammering a dead server. The breaker
// arms a timer that moves the circuit back to disconnected after an
// exponentially growing backoff (capped, default 1 minute), letting the
// next attempt probe the server. Any success resets the breaker.
//
// ConnectWithRetry layers pkg/retry on top: circuit-open rejections are
// retried on the retry schedule, and the two backoffs interleave rather
// than conflict because an open circuit fails fast.
//
// # JetStream
//
// EnsureStream creates or updates a stream, so a restart against a
// server that already holds the stream converges instead of failing.
// PullConsumer creates or updates a named consumer and hands it back;
// the caller owns the Messages iterator and its shutdown. Publishes
// return the server PubAck so callers can record the assigned sequence.
//
// Streams and consumers touched through the client are tracked and
// polled for Prometheus metrics when WithMetrics is set (stream depth
// and bytes, consumer pending/delivered/acked/redelivered, operation
// errors).
//
// # Shutdown
//
// Close drains the connection (bounded by WithDrainTimeout or the
// context deadline, whichever is tighter), unsubscribes, force-closes
// on drain timeout, and clears credentials. Close is idempotent.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Callbacks run on
// their own goroutines and must not call back into Close.
//
// # Known Limitations
//
//   - The circuit breaker is per-client, not per-operation: one broken
//     JetStream domain trips publishes and consumer creation alike.
//   - Core NATS Publish does not flush; delivery visibility comes from
//     JetStream acks, not from Publish returning nil.
//   - Consumer metrics use counter Add on polled absolute values, so
//     rates are meaningful but absolute counts inflate across polls.
package natsclient
