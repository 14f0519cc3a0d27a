package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
	"unicode/utf8"

	"github.com/c360/asyncflow/pipeline"
)

// maxComputeDelay bounds the simulated cost of one computation.
var maxComputeDelay = 5 * time.Second

// expensiveComputation returns the demo workload: it sleeps for a random
// interval to stand in for CPU-bound work, then reports the payload length.
// Swap this for a real computation when embedding the pipeline.
func expensiveComputation(logger *slog.Logger) pipeline.Computation {
	return func(ctx context.Context, item pipeline.Item) ([]byte, error) {
		logger.Info("starting expensive computation on message",
			"offset", item.Offset)

		select {
		case <-time.After(rand.N(maxComputeDelay)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		result := describePayload(item.Payload)

		logger.Info("expensive computation completed on message",
			"offset", item.Offset)

		return []byte(result), nil
	}
}

// describePayload renders the computation result for one payload.
func describePayload(payload []byte) string {
	switch {
	case payload == nil:
		return "No payload"
	case utf8.Valid(payload):
		return fmt.Sprintf("Payload len for %s is %d", payload, len(payload))
	default:
		return "Message payload is not a string"
	}
}
