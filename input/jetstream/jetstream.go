// Package jetstream provides the NATS JetStream-backed source for the
// pipeline.
//
// The source owns a pull consumer on one stream and surfaces messages as
// pipeline items. Messages are acknowledged on receipt, before processing,
// so a processed item is never redelivered; items still buffered at shutdown
// were never handed to the pipeline and redeliver on the next run when a
// durable name is configured.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/asyncflow/component"
	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/natsclient"
	"github.com/c360/asyncflow/pipeline"
)

// messageKeyHeader carries the routing key on published messages. The
// JetStream sink sets it; the source restores it into Item.Key.
const messageKeyHeader = "X-Message-Key"

// Metrics holds Prometheus metrics for the JetStream source.
type Metrics struct {
	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	fetchErrors      prometheus.Counter
	lastActivity     prometheus.Gauge
}

// newMetrics creates and registers JetStream source metrics.
func newMetrics(registry *metric.MetricsRegistry, stream string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_source",
			Name:      "messages_received_total",
			Help:      "Total messages fetched from the stream",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_source",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes fetched from the stream",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_source",
			Name:      "fetch_errors_total",
			Help:      "Iterator reads that returned a transport error",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_source",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last fetched message",
		}),
	}

	serviceName := fmt.Sprintf("jetstream_source_%s", stream)
	registry.RegisterCounter(serviceName, "messages_received", metrics.messagesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter(serviceName, "fetch_errors", metrics.fetchErrors)
	registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// Config holds configuration for the JetStream source.
type Config struct {
	// Stream is the stream messages are consumed from. Created with Subject
	// as its only binding when it does not exist yet.
	Stream string `json:"stream" yaml:"stream"`
	// Subject filters which stream messages the consumer receives.
	Subject string `json:"subject" yaml:"subject"`
	// Durable names the consumer so its position survives restarts. Empty
	// means an ephemeral consumer starting at new messages.
	Durable string `json:"durable" yaml:"durable"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Stream == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"stream is required")
	}
	if c.Subject == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"subject is required")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the JetStream source.
func DefaultConfig() Config {
	return Config{
		Durable: "asyncflow-consumer",
	}
}

// Deps holds runtime dependencies for the JetStream source.
type Deps struct {
	Name            string             // Instance name
	Config          Config             // Business logic configuration
	Client          *natsclient.Client // Runtime dependency
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// fetched carries one iterator result from the pump goroutine to Fetch.
type fetched struct {
	msg jetstream.Msg
	err error
}

// Source implements pipeline.Source over a JetStream pull consumer.
type Source struct {
	name    string
	stream  string
	subject string
	client  *natsclient.Client
	logger  *slog.Logger

	consumer jetstream.Consumer
	msgs     jetstream.MessagesContext
	recv     chan fetched

	// Lifecycle management
	shutdown  chan struct{}
	pumpDone  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	startTime time.Time

	// Metrics (atomic for thread safety)
	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	fetchErrors      atomic.Int64
	ackErrors        atomic.Int64
	lastActivity     atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Source implements all required interfaces
var _ pipeline.Source = (*Source)(nil)
var _ component.HealthReporter = (*Source)(nil)

// New creates the consumer on the configured stream and starts reading. The
// stream is provisioned when missing; an existing stream is left untouched.
// The caller keeps ownership of the client connection.
func New(ctx context.Context, deps Deps) (*Source, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Source", "New",
			"nats client is required")
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("jetstream-source-%s", cfg.Stream)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "jetstream-source", "stream", cfg.Stream)
	}

	if _, err := deps.Client.GetStream(ctx, cfg.Stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, pkgerrors.WrapTransient(err, "jetstream-source", "New", "look up stream")
		}
		if _, err := deps.Client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		}); err != nil {
			return nil, pkgerrors.WrapTransient(err, "jetstream-source", "New", "create stream")
		}
		logger.Info("created stream",
			"component", "jetstream-source",
			"stream", cfg.Stream,
			"subject", cfg.Subject)
	}

	consumer, err := deps.Client.PullConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, pkgerrors.WrapTransient(err, "jetstream-source", "New", "create consumer")
	}

	msgs, err := consumer.Messages()
	if err != nil {
		return nil, pkgerrors.WrapTransient(err, "jetstream-source", "New", "open message iterator")
	}

	s := &Source{
		name:      name,
		stream:    cfg.Stream,
		subject:   cfg.Subject,
		client:    deps.Client,
		logger:    logger,
		consumer:  consumer,
		msgs:      msgs,
		recv:      make(chan fetched),
		shutdown:  make(chan struct{}),
		pumpDone:  make(chan struct{}),
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry, cfg.Stream),
	}
	s.lastActivity.Store(time.Time{})

	go s.pump()

	return s, nil
}

// Name returns the instance name used in logs and health reporting.
func (s *Source) Name() string {
	return s.name
}

// pump reads the iterator and hands results to Fetch. It acknowledges each
// message before handing it over. Runs until the iterator closes or
// shutdown is signalled.
func (s *Source) pump() {
	defer close(s.pumpDone)

	for {
		msg, err := s.msgs.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				select {
				case s.recv <- fetched{err: pipeline.ErrSourceClosed}:
				case <-s.shutdown:
				}
				return
			}

			s.fetchErrors.Add(1)
			if s.metrics != nil {
				s.metrics.fetchErrors.Inc()
			}
			select {
			case s.recv <- fetched{err: pkgerrors.WrapTransient(err,
				"jetstream-source", "Fetch", "read from stream")}:
			case <-s.shutdown:
				return
			}
			continue
		}

		if err := msg.Ack(); err != nil {
			s.ackErrors.Add(1)
			s.logger.Warn("ack failed",
				"component", "jetstream-source",
				"error", err)
		}

		select {
		case s.recv <- fetched{msg: msg}:
		case <-s.shutdown:
			return
		}
	}
}

// Fetch blocks until the next message arrives and returns it as a pipeline
// item.
func (s *Source) Fetch(ctx context.Context) (pipeline.Item, error) {
	if s.closed.Load() {
		return pipeline.Item{}, pipeline.ErrSourceClosed
	}

	select {
	case f := <-s.recv:
		if f.err != nil {
			return pipeline.Item{}, f.err
		}
		return s.received(f.msg), nil
	case <-s.shutdown:
		return pipeline.Item{}, pipeline.ErrSourceClosed
	case <-ctx.Done():
		return pipeline.Item{}, ctx.Err()
	}
}

// received updates counters and maps the message onto a pipeline item.
func (s *Source) received(msg jetstream.Msg) pipeline.Item {
	it := itemFromMsg(msg, s.stream)

	n := len(it.Payload)
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(int64(n))
	now := time.Now()
	s.lastActivity.Store(now)

	if s.metrics != nil {
		s.metrics.messagesReceived.Inc()
		s.metrics.bytesReceived.Add(float64(n))
		s.metrics.lastActivity.Set(float64(now.Unix()))
	}

	return it
}

// itemFromMsg maps a JetStream message onto a pipeline item. The stream
// sequence serves as the offset; JetStream has no partitions so Partition
// stays 0.
func itemFromMsg(msg jetstream.Msg, stream string) pipeline.Item {
	it := pipeline.Item{
		Stream:  stream,
		Payload: msg.Data(),
	}
	if meta, err := msg.Metadata(); err == nil {
		it.Stream = meta.Stream
		it.Offset = int64(meta.Sequence.Stream)
	}
	if key := msg.Headers().Get(messageKeyHeader); key != "" {
		it.Key = []byte(key)
	}
	return it
}

// Close stops the iterator and waits for the pump goroutine to exit.
// Subsequent Fetch calls return ErrSourceClosed. The client connection is
// not closed; the caller owns it. Close is idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.shutdown)
		s.msgs.Stop()

		select {
		case <-s.pumpDone:
		case <-time.After(5 * time.Second):
			s.closeErr = pkgerrors.WrapTransient(
				fmt.Errorf("iterator did not stop within 5s"),
				"jetstream-source", "Close", "stop iterator")
		}

		s.logger.Info("jetstream consumer closed",
			"component", "jetstream-source",
			"stream", s.stream,
			"messages", s.messagesReceived.Load(),
			"bytes", s.bytesReceived.Load())
	})
	return s.closeErr
}

// Stats is a point-in-time snapshot of source counters.
type Stats struct {
	MessagesReceived int64     `json:"messages_received"`
	BytesReceived    int64     `json:"bytes_received"`
	FetchErrors      int64     `json:"fetch_errors"`
	AckErrors        int64     `json:"ack_errors"`
	LastActivity     time.Time `json:"last_activity"`
}

// Stats returns current source statistics.
func (s *Source) Stats() Stats {
	lastActivity, _ := s.lastActivity.Load().(time.Time)
	return Stats{
		MessagesReceived: s.messagesReceived.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		FetchErrors:      s.fetchErrors.Load(),
		AckErrors:        s.ackErrors.Load(),
		LastActivity:     lastActivity,
	}
}

// Health reports healthy while the source is open and the underlying
// connection is up.
func (s *Source) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !s.closed.Load() && s.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.fetchErrors.Load() + s.ackErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}
