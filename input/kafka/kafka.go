// Package kafka provides the Kafka-backed source for the pipeline.
//
// The source wraps a consumer-group reader and surfaces records as pipeline
// items. Offsets are never committed: a restarted group rejoins at the
// broker's latest position and unprocessed records from the previous run are
// not replayed.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
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

// Metrics holds Prometheus metrics for the Kafka source.
type Metrics struct {
	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	fetchErrors      prometheus.Counter
	fetchLatency     prometheus.Histogram
	lastActivity     prometheus.Gauge
}

// newMetrics creates and registers Kafka source metrics.
func newMetrics(registry *metric.MetricsRegistry, topic string) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_source",
			Name:      "messages_received_total",
			Help:      "Total records fetched from Kafka",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_source",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes fetched from Kafka",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_source",
			Name:      "fetch_errors_total",
			Help:      "Fetch attempts that returned a transport error",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_source",
			Name:      "fetch_duration_seconds",
			Help:      "Time spent blocked waiting for a record",
			Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "kafka_source",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last fetched record",
		}),
	}

	serviceName := fmt.Sprintf("kafka_source_%s", topic)
	registry.RegisterCounter(serviceName, "messages_received", metrics.messagesReceived)
	registry.RegisterCounter(serviceName, "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter(serviceName, "fetch_errors", metrics.fetchErrors)
	registry.RegisterHistogram(serviceName, "fetch_latency", metrics.fetchLatency)
	registry.RegisterGauge(serviceName, "last_activity", metrics.lastActivity)

	return metrics
}

// Config holds configuration for the Kafka source.
type Config struct {
	// Brokers lists bootstrap broker addresses.
	Brokers []string `json:"brokers" yaml:"brokers"`
	// GroupID is the consumer group the reader joins.
	GroupID string `json:"group_id" yaml:"group_id"`
	// Topic is the topic records are fetched from.
	Topic string `json:"topic" yaml:"topic"`
	// MinBytes and MaxBytes bound the broker fetch size.
	MinBytes int `json:"min_bytes" yaml:"min_bytes"`
	MaxBytes int `json:"max_bytes" yaml:"max_bytes"`
	// MaxWait bounds how long the broker may hold a fetch open.
	MaxWait time.Duration `json:"max_wait" yaml:"max_wait"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"at least one broker is required")
	}
	if c.GroupID == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"group id is required")
	}
	if c.Topic == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"topic is required")
	}
	if c.MinBytes < 0 || c.MaxBytes < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"fetch sizes must not be negative")
	}
	if c.MaxWait < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"max wait must not be negative")
	}
	return nil
}

// DefaultConfig returns sensible defaults for the Kafka source.
func DefaultConfig() Config {
	return Config{
		Brokers:  []string{"localhost:9092"},
		GroupID:  "asyncflow-consumer-group",
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
}

// withDefaults fills zero fetch tuning fields with package defaults.
func (c Config) withDefaults() Config {
	if c.MinBytes == 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10e6
	}
	if c.MaxWait == 0 {
		c.MaxWait = 500 * time.Millisecond
	}
	return c
}

// Deps holds runtime dependencies for the Kafka source.
type Deps struct {
	Name            string                  // Instance name
	Config          Config                  // Business logic configuration
	MetricsRegistry *metric.MetricsRegistry // Runtime dependency
	Logger          *slog.Logger            // Runtime dependency
}

// Source implements pipeline.Source over a Kafka consumer group.
type Source struct {
	name   string
	topic  string
	reader *kafka.Reader
	logger *slog.Logger

	// Lifecycle management
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	startTime time.Time

	// Metrics (atomic for thread safety)
	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	fetchErrors      atomic.Int64
	lastActivity     atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Source implements all required interfaces
var _ pipeline.Source = (*Source)(nil)
var _ component.HealthReporter = (*Source)(nil)

// New creates a Kafka source. The reader dials lazily, so New does not touch
// the network; connection errors surface from the first Fetch.
func New(deps Deps) (*Source, error) {
	cfg := deps.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = fmt.Sprintf("kafka-source-%s", cfg.Topic)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "kafka-source", "topic", cfg.Topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-source")
		}),
	})

	s := &Source{
		name:      name,
		topic:     cfg.Topic,
		reader:    reader,
		logger:    logger,
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry, cfg.Topic),
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Name returns the instance name used in logs and health reporting.
func (s *Source) Name() string {
	return s.name
}

// Fetch blocks until the next record arrives and returns it as a pipeline
// item. The record's offset is not committed.
func (s *Source) Fetch(ctx context.Context) (pipeline.Item, error) {
	if s.closed.Load() {
		return pipeline.Item{}, pipeline.ErrSourceClosed
	}

	start := time.Now()
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return pipeline.Item{}, s.normalizeFetchErr(err)
	}

	n := len(msg.Value)
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(int64(n))
	now := time.Now()
	s.lastActivity.Store(now)

	if s.metrics != nil {
		s.metrics.messagesReceived.Inc()
		s.metrics.bytesReceived.Add(float64(n))
		s.metrics.fetchLatency.Observe(now.Sub(start).Seconds())
		s.metrics.lastActivity.Set(float64(now.Unix()))
	}

	return itemFromMessage(msg), nil
}

// normalizeFetchErr maps reader errors onto the source contract: end of
// stream becomes ErrSourceClosed, cancellation passes through untouched, and
// everything else is counted and classified transient.
func (s *Source) normalizeFetchErr(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, kafka.ErrGroupClosed):
		return pipeline.ErrSourceClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	s.fetchErrors.Add(1)
	if s.metrics != nil {
		s.metrics.fetchErrors.Inc()
	}
	return pkgerrors.WrapTransient(err, "kafka-source", "Fetch", "read from broker")
}

// itemFromMessage maps a Kafka record onto a pipeline item.
func itemFromMessage(msg kafka.Message) pipeline.Item {
	return pipeline.Item{
		Stream:    msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Payload:   msg.Value,
	}
}

// Close shuts down the reader and leaves the consumer group. Subsequent
// Fetch calls return ErrSourceClosed. Close is idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.reader.Close(); err != nil {
			s.closeErr = pkgerrors.WrapTransient(err, "kafka-source", "Close", "close reader")
		}
		s.logger.Info("kafka reader closed",
			"component", "kafka-source",
			"topic", s.topic,
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
	LastActivity     time.Time `json:"last_activity"`
}

// Stats returns current source statistics.
func (s *Source) Stats() Stats {
	lastActivity, _ := s.lastActivity.Load().(time.Time)
	return Stats{
		MessagesReceived: s.messagesReceived.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		FetchErrors:      s.fetchErrors.Load(),
		LastActivity:     lastActivity,
	}
}

// Health returns the current health status of the source.
func (s *Source) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !s.closed.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.fetchErrors.Load()),
		Uptime:     time.Since(s.startTime),
	}
}
