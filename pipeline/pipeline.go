package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/pkg/worker"
)

const componentName = "pipeline"

// Defaults for Config fields left zero.
const (
	DefaultWorkers      = 10
	DefaultQueueSize    = 256
	DefaultMaxInflight  = 1024
	DefaultDrainTimeout = 30 * time.Second
)

// Config holds the pipeline's sizing and publish settings.
type Config struct {
	// Workers is the number of pool goroutines running computations.
	Workers int `json:"workers" yaml:"workers"`
	// QueueSize bounds the computation queue ahead of the workers.
	QueueSize int `json:"queue_size" yaml:"queue_size"`
	// MaxInflight bounds outstanding dispatch units, independent of Workers.
	MaxInflight int `json:"max_inflight" yaml:"max_inflight"`
	// DrainTimeout bounds the wait for outstanding units after the loop ends.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout"`
	// DestinationKey is the key results are published under.
	DestinationKey string `json:"destination_key" yaml:"destination_key"`
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      DefaultWorkers,
		QueueSize:    DefaultQueueSize,
		MaxInflight:  DefaultMaxInflight,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Validate rejects negative sizings. Zero values are filled with defaults
// at construction.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Pipeline", "Validate",
			fmt.Sprintf("workers must not be negative, got %d", c.Workers))
	}
	if c.QueueSize < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Pipeline", "Validate",
			fmt.Sprintf("queue size must not be negative, got %d", c.QueueSize))
	}
	if c.MaxInflight < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Pipeline", "Validate",
			fmt.Sprintf("max inflight must not be negative, got %d", c.MaxInflight))
	}
	if c.DrainTimeout < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Pipeline", "Validate",
			fmt.Sprintf("drain timeout must not be negative, got %v", c.DrainTimeout))
	}
	return nil
}

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxInflight == 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Deps carries the pipeline's collaborators. Source, Sink, and Compute are
// required; a nil Logger falls back to slog.Default() and a nil Metrics
// registry disables metrics.
type Deps struct {
	Source  Source
	Sink    Sink
	Compute Computation
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
}

// Pipeline drives Source, Filter, and Dispatcher on a single control
// goroutine. The control goroutine blocks only in Fetch and in dispatch
// admission; computation and publishing happen on dispatch units and the
// worker pool, which the pipeline owns.
type Pipeline struct {
	cfg        Config
	filter     *Filter
	dispatcher *Dispatcher
	pool       *worker.Pool
	logger     *slog.Logger
	metrics    *pipelineMetrics

	pulled int64
}

// New validates cfg, fills defaults, and wires the pipeline and its worker
// pool.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	if deps.Source == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Pipeline", "New", "source required")
	}
	if deps.Sink == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Pipeline", "New", "sink required")
	}
	if deps.Compute == nil {
		return nil, pkgerrors.WrapInvalid(pkgerrors.ErrMissingConfig, "Pipeline", "New", "computation required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newPipelineMetrics(deps.Metrics)
	if err != nil {
		logger.Error("failed to initialize pipeline metrics",
			"component", componentName,
			"error", err)
		metrics = nil // Continue without metrics
	}

	var poolOpts []worker.Option
	if deps.Metrics != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry(deps.Metrics, "asyncflow_worker_pool"))
	}
	pool := worker.NewPool(cfg.Workers, cfg.QueueSize, poolOpts...)

	var key []byte
	if cfg.DestinationKey != "" {
		key = []byte(cfg.DestinationKey)
	}

	filter := NewFilter(deps.Source, logger)
	filter.metrics = metrics

	dispatcher := NewDispatcher(pool, deps.Sink, deps.Compute, DispatcherConfig{
		DestinationKey: key,
		MaxInflight:    cfg.MaxInflight,
	}, logger)
	dispatcher.metrics = metrics

	return &Pipeline{
		cfg:        cfg,
		filter:     filter,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

// Run drives the pipeline until the source ends or ctx is cancelled, then
// drains outstanding units and stops the pool. It returns nil on clean
// end-of-stream, the ctx error on cancellation, or the drain error when
// units had to be abandoned.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.pool.Start(ctx); err != nil {
		return fmt.Errorf("pipeline.Run: start worker pool: %w", err)
	}

	p.logger.Info("starting event loop",
		"component", componentName,
		"workers", p.cfg.Workers,
		"queue_size", p.cfg.QueueSize,
		"max_inflight", p.cfg.MaxInflight)

	var runErr error
loop:
	for {
		it, err := p.filter.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSourceClosed):
			p.logger.Info("source closed", "component", componentName)
			break loop
		default:
			runErr = err
			break loop
		}

		atomic.AddInt64(&p.pulled, 1)
		p.metrics.recordReceived()
		p.logger.Info("message received",
			"component", componentName,
			"stream", it.Stream,
			"partition", it.Partition,
			"offset", it.Offset)

		if err := p.dispatcher.Dispatch(ctx, it); err != nil {
			runErr = err
			break loop
		}
	}

	drainErr := p.dispatcher.Drain(p.cfg.DrainTimeout)
	if drainErr != nil {
		p.logger.Warn("drain incomplete",
			"component", componentName,
			"error", drainErr)
	}

	if err := p.pool.Stop(p.cfg.DrainTimeout); err != nil {
		p.logger.Warn("worker pool stop",
			"component", componentName,
			"error", err)
	}

	stats := p.Stats()
	p.logger.Info("stream processing terminated",
		"component", componentName,
		"pulled", stats.Pulled,
		"published", stats.Published,
		"publish_failures", stats.PublishFailures,
		"offload_failures", stats.OffloadFailures,
		"receive_errors", stats.ReceiveErrors)

	if runErr != nil {
		return runErr
	}
	return drainErr
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Pulled          int64 `json:"pulled"`
	ReceiveErrors   int64 `json:"receive_errors"`
	Dispatched      int64 `json:"dispatched"`
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publish_failures"`
	OffloadFailures int64 `json:"offload_failures"`
	InFlight        int64 `json:"in_flight"`
}

// Stats returns current pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Pulled:          atomic.LoadInt64(&p.pulled),
		ReceiveErrors:   p.filter.ReceiveErrors(),
		Dispatched:      atomic.LoadInt64(&p.dispatcher.dispatched),
		Published:       atomic.LoadInt64(&p.dispatcher.published),
		PublishFailures: atomic.LoadInt64(&p.dispatcher.publishFailures),
		OffloadFailures: atomic.LoadInt64(&p.dispatcher.offloadFailures),
		InFlight:        p.dispatcher.InFlight(),
	}
}
