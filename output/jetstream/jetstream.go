// Package jetstream provides the NATS JetStream-backed sink for the
// pipeline.
//
// Each publish writes one message to the configured subject and blocks until
// the server acknowledges the append. The receipt carries the stream name
// and the assigned stream sequence, so deliveries are individually
// addressable afterwards.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/asyncflow/component"
	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/natsclient"
	"github.com/c360/asyncflow/pipeline"
)

// messageKeyHeader carries the routing key on published messages. The
// JetStream source restores it into Item.Key on the consuming side.
const messageKeyHeader = "X-Message-Key"

// Metrics holds Prometheus metrics for the JetStream sink.
type Metrics struct {
	messagesSent   prometheus.Counter
	bytesSent      prometheus.Counter
	publishErrors  prometheus.Counter
	publishLatency prometheus.Histogram
	lastActivity   prometheus.Gauge
}

// newMetrics creates and registers JetStream sink metrics.
func newMetrics(registry *metric.MetricsRegistry, stream string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_sink",
			Name:      "messages_sent_total",
			Help:      "Total messages acknowledged by the server",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_sink",
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes acknowledged by the server",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_sink",
			Name:      "publish_errors_total",
			Help:      "Publishes that failed or timed out",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_sink",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish one message including the server ack",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "jetstream_sink",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last acknowledged message",
		}),
	}

	serviceName := fmt.Sprintf("jetstream_sink_%s", stream)
	registry.RegisterCounter(serviceName, "messages_sent", metrics.messagesSent)
	registry.RegisterCounter(serviceName, "bytes_sent", metrics.bytesSent)
	registry.RegisterCounter(serviceName, "publish_errors", metrics.publishErrors)
	registry.RegisterHistogram(serviceName, "publish_latency", metrics.publishLatency)
	registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// Config holds configuration for the JetStream sink.
type Config struct {
	// Stream is the stream that stores published messages. Created with
	// Subject as its only binding when it does not exist yet.
	Stream string `json:"stream" yaml:"stream"`
	// Subject is the subject messages are published to.
	Subject string `json:"subject" yaml:"subject"`
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

// Deps holds runtime dependencies for the JetStream sink.
type Deps struct {
	Name            string             // Instance name
	Config          Config             // Business logic configuration
	Client          *natsclient.Client // Runtime dependency
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Sink implements pipeline.Sink over JetStream publishes.
type Sink struct {
	name    string
	stream  string
	subject string
	client  *natsclient.Client
	logger  *slog.Logger

	// Lifecycle management
	closed    atomic.Bool
	startTime time.Time

	// Metrics (atomic for thread safety)
	messagesSent  atomic.Int64
	bytesSent     atomic.Int64
	publishErrors atomic.Int64
	lastActivity  atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Sink implements all required interfaces
var _ pipeline.Sink = (*Sink)(nil)
var _ component.HealthReporter = (*Sink)(nil)

// New creates a JetStream sink. The stream is provisioned when missing; an
// existing stream is left untouched. The caller keeps ownership of the
// client connection.
func New(ctx context.Context, deps Deps) (*Sink, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Sink", "New",
			"nats client is required")
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("jetstream-sink-%s", cfg.Stream)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "jetstream-sink", "stream", cfg.Stream)
	}

	if _, err := deps.Client.GetStream(ctx, cfg.Stream); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, pkgerrors.WrapTransient(err, "jetstream-sink", "New", "look up stream")
		}
		if _, err := deps.Client.EnsureStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
		}); err != nil {
			return nil, pkgerrors.WrapTransient(err, "jetstream-sink", "New", "create stream")
		}
		logger.Info("created stream",
			"component", "jetstream-sink",
			"stream", cfg.Stream,
			"subject", cfg.Subject)
	}

	s := &Sink{
		name:      name,
		stream:    cfg.Stream,
		subject:   cfg.Subject,
		client:    deps.Client,
		logger:    logger,
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry, cfg.Stream),
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Name returns the instance name used in logs and health reporting.
func (s *Sink) Name() string {
	return s.name
}

// Publish writes one message to the sink subject and blocks until the
// server acknowledges the append. A non-empty key rides along in the
// message header.
func (s *Sink) Publish(ctx context.Context, key, payload []byte) (pipeline.Receipt, error) {
	if s.closed.Load() {
		return pipeline.Receipt{}, pkgerrors.WrapInvalid(
			fmt.Errorf("sink is closed"), "jetstream-sink", "Publish", "check sink state")
	}

	msg := &nats.Msg{
		Subject: s.subject,
		Data:    payload,
	}
	if len(key) > 0 {
		msg.Header = nats.Header{messageKeyHeader: []string{string(key)}}
	}

	start := time.Now()
	ack, err := s.client.PublishMsgToStream(ctx, msg)
	if err != nil {
		s.publishErrors.Add(1)
		if s.metrics != nil {
			s.metrics.publishErrors.Inc()
		}
		return pipeline.Receipt{}, pkgerrors.WrapTransient(err, "jetstream-sink", "Publish", "publish to stream")
	}

	n := len(payload)
	s.messagesSent.Add(1)
	s.bytesSent.Add(int64(n))
	now := time.Now()
	s.lastActivity.Store(now)

	if s.metrics != nil {
		s.metrics.messagesSent.Inc()
		s.metrics.bytesSent.Add(float64(n))
		s.metrics.publishLatency.Observe(now.Sub(start).Seconds())
		s.metrics.lastActivity.Set(float64(now.Unix()))
	}

	return pipeline.Receipt{
		Destination: ack.Stream,
		Partition:   -1,
		Offset:      int64(ack.Sequence),
	}, nil
}

// Close marks the sink closed. Subsequent Publish calls fail. The client
// connection is not closed; the caller owns it. Close is idempotent.
func (s *Sink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.logger.Info("jetstream sink closed",
			"component", "jetstream-sink",
			"stream", s.stream,
			"messages", s.messagesSent.Load(),
			"bytes", s.bytesSent.Load())
	}
	return nil
}

// Stats is a point-in-time snapshot of sink counters.
type Stats struct {
	MessagesSent  int64     `json:"messages_sent"`
	BytesSent     int64     `json:"bytes_sent"`
	PublishErrors int64     `json:"publish_errors"`
	LastActivity  time.Time `json:"last_activity"`
}

// Stats returns current sink statistics.
func (s *Sink) Stats() Stats {
	lastActivity, _ := s.lastActivity.Load().(time.Time)
	return Stats{
		MessagesSent:  s.messagesSent.Load(),
		BytesSent:     s.bytesSent.Load(),
		PublishErrors: s.publishErrors.Load(),
		LastActivity:  lastActivity,
	}
}

// Health reports healthy while the sink is open and the underlying
// connection is up.
func (s *Sink) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !s.closed.Load() && s.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.publishErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}
