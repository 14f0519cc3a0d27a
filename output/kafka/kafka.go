// Package kafka provides the Kafka-backed sink for the pipeline.
//
// Each publish writes one record through a shared writer and blocks until
// every in-sync replica acknowledges it. The broker assigns partition and
// offset after the write returns, so receipts carry -1 for both.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/c360/asyncflow/component"
	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/pipeline"
)

// Metrics holds Prometheus metrics for the Kafka sink.
type Metrics struct {
	messagesSent   prometheus.Counter
	bytesSent      prometheus.Counter
	publishErrors  prometheus.Counter
	publishLatency prometheus.Histogram
	lastActivity   prometheus.Gauge
}

// newMetrics creates and registers Kafka sink metrics.
func newMetrics(registry *metric.MetricsRegistry, topic string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_sink",
			Name:      "messages_sent_total",
			Help:      "Total records acknowledged by the broker",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_sink",
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes acknowledged by the broker",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_sink",
			Name:      "publish_errors_total",
			Help:      "Writes that failed or timed out",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_sink",
			Name:      "publish_duration_seconds",
			Help:      "Time to write one record including broker acks",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_sink",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last acknowledged record",
		}),
	}

	serviceName := fmt.Sprintf("kafka_sink_%s", topic)
	registry.RegisterCounter(serviceName, "messages_sent", metrics.messagesSent)
	registry.RegisterCounter(serviceName, "bytes_sent", metrics.bytesSent)
	registry.RegisterCounter(serviceName, "publish_errors", metrics.publishErrors)
	registry.RegisterHistogram(serviceName, "publish_latency", metrics.publishLatency)
	registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// Config holds configuration for the Kafka sink.
type Config struct {
	// Brokers lists bootstrap broker addresses.
	Brokers []string `json:"brokers" yaml:"brokers"`
	// Topic is the topic records are written to.
	Topic string `json:"topic" yaml:"topic"`
	// WriteTimeout bounds one write including broker acknowledgement.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"at least one broker is required")
	}
	if c.Topic == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"topic is required")
	}
	if c.WriteTimeout < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"write timeout must not be negative")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the Kafka sink.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		WriteTimeout: 5 * time.Second,
	}
}

// Deps holds runtime dependencies for the Kafka sink.
type Deps struct {
	Name            string                  // Instance name
	Config          Config                  // Business logic configuration
	MetricsRegistry *metric.MetricsRegistry // Runtime dependency
	Logger          *slog.Logger            // Runtime dependency
}

// Sink implements pipeline.Sink over a Kafka writer.
type Sink struct {
	name   string
	topic  string
	writer *kafka.Writer
	logger *slog.Logger

	// Lifecycle management
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
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

// New creates a Kafka sink. The writer dials lazily, so New does not touch
// the network; connection errors surface from the first Publish.
func New(deps Deps) (*Sink, error) {
	cfg := deps.Config
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("kafka-sink-%s", cfg.Topic)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "kafka-sink", "topic", cfg.Topic)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-sink")
		}),
	}

	s := &Sink{
		name:      name,
		topic:     cfg.Topic,
		writer:    writer,
		logger:    logger,
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry, cfg.Topic),
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Name returns the instance name used in logs and health reporting.
func (s *Sink) Name() string {
	return s.name
}

// Publish writes one record keyed by key and blocks until the broker
// acknowledges it. The writer's hash balancer keeps records with the same
// key on the same partition.
func (s *Sink) Publish(ctx context.Context, key, payload []byte) (pipeline.Receipt, error) {
	if s.closed.Load() {
		return pipeline.Receipt{}, pkgerrors.WrapInvalid(
			fmt.Errorf("sink is closed"), "kafka-sink", "Publish", "check sink state")
	}

	start := time.Now()
	err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		s.publishErrors.Add(1)
		if s.metrics != nil {
			s.metrics.publishErrors.Inc()
		}
		return pipeline.Receipt{}, pkgerrors.WrapTransient(err, "kafka-sink", "Publish", "write to broker")
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

	// The writer does not report the assigned partition or offset.
	return pipeline.Receipt{
		Destination: s.topic,
		Partition:   -1,
		Offset:      -1,
	}, nil
}

// Close flushes and shuts down the writer. Close is idempotent.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.writer.Close(); err != nil {
			s.closeErr = pkgerrors.WrapTransient(err, "kafka-sink", "Close", "close writer")
		}
		s.logger.Info("kafka writer closed",
			"component", "kafka-sink",
			"topic", s.topic,
			"messages", s.messagesSent.Load(),
			"bytes", s.bytesSent.Load())
	})
	return s.closeErr
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

// Health returns the current health status of the sink.
func (s *Sink) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !s.closed.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.publishErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}
