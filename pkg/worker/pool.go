package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/asyncflow/metric"
)

// task pairs the work closure with a failure callback used when the closure
// cannot deliver its own result (panic, shutdown).
type task struct {
	run  func() error
	fail func(error)
}

// Pool runs submitted tasks on a fixed set of worker goroutines fed from a
// bounded FIFO queue. Admission blocks when the queue is full; tasks are
// never dropped once accepted. See Offload for the submission API.
type Pool struct {
	workers   int
	queueSize int

	taskChan chan task
	quit     chan struct{}
	metrics  *Metrics

	wg sync.WaitGroup

	// Lifecycle state
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	completed int64
	failed    int64
	panics    int64
	busy      int64

	metricsRegistry metric.MetricsRegistrar
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth  prometheus.Gauge
	busyWorkers prometheus.Gauge
	submitted   prometheus.Counter
	completed   prometheus.Counter
	failed      prometheus.Counter
	panics      prometheus.Counter
	taskTime    *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option func(*Pool)

// WithMetricsRegistry configures the pool to register metrics with the
// shared registry under the given prefix
func WithMetricsRegistry(registry metric.MetricsRegistrar, prefix string) Option {
	return func(p *Pool) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a worker pool with optional configuration
func NewPool(workers, queueSize int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 10 // Default worker count
	}
	if queueSize <= 0 {
		queueSize = 256 // Default queue size
	}

	pool := &Pool{
		workers:   workers,
		queueSize: queueSize,
		taskChan:  make(chan task, queueSize),
		quit:      make(chan struct{}),
	}

	// Apply options
	for _, opt := range opts {
		opt(pool)
	}

	// Initialize metrics if registry provided
	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

// initializeMetrics creates and registers metrics with the shared registry
func (p *Pool) initializeMetrics() {
	prefix := p.metricsPrefix

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_queue_depth",
		Help: "Current worker pool queue depth",
	})
	busyWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: prefix + "_busy_workers",
		Help: "Workers currently running a task",
	})
	submitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_submitted_total",
		Help: "Total tasks admitted to the queue",
	})
	completed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_completed_total",
		Help: "Total tasks that finished running",
	})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_failed_total",
		Help: "Total tasks that returned an error or panicked",
	})
	panics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "_panics_total",
		Help: "Total tasks that panicked while running",
	})
	taskTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_task_duration_seconds",
		Help:    "Time spent running tasks",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
	}, []string{"status"})

	serviceName := "worker_pool"
	p.metricsRegistry.RegisterGauge(serviceName, prefix+"_queue_depth", queueDepth)
	p.metricsRegistry.RegisterGauge(serviceName, prefix+"_busy_workers", busyWorkers)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_submitted_total", submitted)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_completed_total", completed)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_failed_total", failed)
	p.metricsRegistry.RegisterCounter(serviceName, prefix+"_panics_total", panics)
	p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_task_duration_seconds", taskTime)

	p.metrics = &Metrics{
		queueDepth:  queueDepth,
		busyWorkers: busyWorkers,
		submitted:   submitted,
		completed:   completed,
		failed:      failed,
		panics:      panics,
		taskTime:    taskTime,
	}
}

// submit queues a task, blocking while the queue is full. It returns
// ctx.Err() if the caller gives up waiting and ErrPoolStopped if the pool
// shuts down while the task is waiting for a slot.
func (p *Pool) submit(ctx context.Context, t task) error {
	p.lifecycleMu.Lock()
	if !p.started {
		p.lifecycleMu.Unlock()
		return ErrPoolNotStarted
	}
	if p.stopped {
		p.lifecycleMu.Unlock()
		return ErrPoolStopped
	}
	p.lifecycleMu.Unlock()

	select {
	case p.taskChan <- t:
		atomic.AddInt64(&p.submitted, 1)
		if p.metrics != nil {
			p.metrics.submitted.Inc()
			p.metrics.queueDepth.Set(float64(len(p.taskChan)))
		}
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts the worker pool
func (p *Pool) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	// Start metrics updater if metrics enabled
	if p.metrics != nil {
		p.wg.Add(1)
		go p.metricsUpdater(ctx)
	}

	p.started = true
	return nil
}

// Stop shuts the pool down. Workers finish the tasks already queued, then
// exit; Stop waits up to timeout for that drain and returns ErrStopTimeout
// if workers are still busy afterwards. Tasks blocked in submit at the time
// of the call are rejected with ErrPoolStopped.
func (p *Pool) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		// Workers may be stuck in a task
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.taskChan),
		Busy:       atomic.LoadInt64(&p.busy),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Completed:  atomic.LoadInt64(&p.completed),
		Failed:     atomic.LoadInt64(&p.failed),
		Panics:     atomic.LoadInt64(&p.panics),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int64 `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Panics     int64 `json:"panics"`
}

// worker runs tasks from the queue until the context is cancelled or the
// pool stops. On stop it drains whatever is still queued before exiting.
func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Context cancelled - exit immediately
			return
		case <-p.quit:
			p.drain(ctx)
			return
		case t := <-p.taskChan:
			p.runTask(t)
		}
	}
}

// drain runs remaining queued tasks after Stop, until the queue is empty or
// the context is cancelled
func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.taskChan:
			p.runTask(t)
		default:
			return
		}
	}
}

func (p *Pool) runTask(t task) {
	atomic.AddInt64(&p.busy, 1)
	start := time.Now()
	err := p.safeRun(t)
	duration := time.Since(start)
	atomic.AddInt64(&p.busy, -1)

	// Update statistics
	atomic.AddInt64(&p.completed, 1)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
	}

	// Update metrics
	if p.metrics != nil {
		p.metrics.completed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
			var pe *PanicError
			if errors.As(err, &pe) {
				status = "panic"
			}
		}
		p.metrics.taskTime.WithLabelValues(status).Observe(duration.Seconds())
	}
}

// safeRun executes a task and converts a panic into a *PanicError, failing
// the task's future so waiters are never left hanging.
func (p *Pool) safeRun(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r, Stack: debug.Stack()}
			atomic.AddInt64(&p.panics, 1)
			if p.metrics != nil {
				p.metrics.panics.Inc()
			}
			t.fail(perr)
			err = perr
		}
	}()
	return t.run()
}

// metricsUpdater periodically updates queue depth and busy worker gauges
func (p *Pool) metricsUpdater(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			p.metrics.queueDepth.Set(float64(len(p.taskChan)))
			p.metrics.busyWorkers.Set(float64(atomic.LoadInt64(&p.busy)))
		}
	}
}
