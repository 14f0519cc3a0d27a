package pipeline

import (
	"context"
	"errors"
)

// ErrSourceClosed is returned by Source.Fetch when the stream has ended and
// no further items will arrive. Backends normalize their own end-of-stream
// signals to it.
var ErrSourceClosed = errors.New("source closed")

// Source yields inbound items from a broker subscription. Fetch blocks until
// an item arrives, the transport reports an error, ctx is cancelled, or the
// stream ends with ErrSourceClosed. Returned items may alias transport
// buffers; see Item.Detach. Subscription, offset, and connection management
// live inside the backend.
type Source interface {
	Fetch(ctx context.Context) (Item, error)
	Close() error
}

// Sink delivers computed results downstream. Publish blocks until the
// transport acknowledges or rejects the payload. Concurrent calls are safe
// and carry no ordering guarantee relative to each other; retry policy, if
// any, lives inside the backend.
type Sink interface {
	Publish(ctx context.Context, key, payload []byte) (Receipt, error)
	Close() error
}

// Computation turns one inbound item into the payload to publish. It may
// block for a bounded-but-variable time; it runs on a pool worker, never on
// the control goroutine, and must not spawn further concurrent work.
type Computation func(ctx context.Context, item Item) ([]byte, error)
