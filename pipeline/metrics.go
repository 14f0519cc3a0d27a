package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/asyncflow/metric"
)

// pipelineMetrics holds Prometheus metrics for pipeline operations.
type pipelineMetrics struct {
	itemsTotal    *prometheus.CounterVec // By status (received/dispatched/receive_error)
	unitsTotal    *prometheus.CounterVec // By terminal state
	unitsInFlight prometheus.Gauge
	unitDuration  *prometheus.HistogramVec // By terminal state
}

// newPipelineMetrics creates and registers pipeline metrics with the
// provided registry.
func newPipelineMetrics(registry *metric.MetricsRegistry) (*pipelineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &pipelineMetrics{
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Inbound pull outcomes by status",
		}, []string{"status"}), // status: received, dispatched, receive_error

		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "pipeline",
			Name:      "units_total",
			Help:      "Dispatch units by terminal state",
		}, []string{"state"}), // state: published, publish_failed, offload_failed

		unitsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "pipeline",
			Name:      "units_in_flight",
			Help:      "Dispatch units currently outstanding",
		}),

		unitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: "pipeline",
			Name:      "unit_duration_seconds",
			Help:      "Dispatch unit wall time from dispatch to terminal state",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"state"}),
	}

	if err := registry.RegisterCounterVec("pipeline", "items_total", m.itemsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("pipeline", "units_total", m.unitsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("pipeline", "units_in_flight", m.unitsInFlight); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("pipeline", "unit_duration", m.unitDuration); err != nil {
		return nil, err
	}

	return m, nil
}

// recordReceived records one successfully pulled item.
func (m *pipelineMetrics) recordReceived() {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues("received").Inc()
}

// recordReceiveError records one dropped transport error.
func (m *pipelineMetrics) recordReceiveError() {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues("receive_error").Inc()
}

// recordDispatched records one spawned dispatch unit.
func (m *pipelineMetrics) recordDispatched() {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues("dispatched").Inc()
	m.unitsInFlight.Inc()
}

// recordTerminal records a unit reaching a terminal state.
func (m *pipelineMetrics) recordTerminal(state UnitState, duration time.Duration) {
	if m == nil {
		return
	}
	m.unitsInFlight.Dec()
	m.unitsTotal.WithLabelValues(state.String()).Inc()
	m.unitDuration.WithLabelValues(state.String()).Observe(duration.Seconds())
}
