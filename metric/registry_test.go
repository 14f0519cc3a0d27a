package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/asyncflow/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
}

func gatherFamily(t *testing.T, registry *MetricsRegistry, name string) *dto.MetricFamily {
	t.Helper()

	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	for _, mf := range metricFamilies {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	err := registry.RegisterCounter("pipeline", "test_counter", counter)
	require.NoError(t, err)

	counter.Inc()
	counter.Inc()

	family := gatherFamily(t, registry, "test_counter")
	require.NotNil(t, family, "registered counter should be gatherable")
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, 2.0, family.GetMetric()[0].GetCounter().GetValue())
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_gauge",
		Help: "A test gauge",
	})
	require.NoError(t, registry.RegisterGauge("pipeline", "test_gauge", gauge))
	gauge.Set(7)

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_histogram",
		Help:    "A test histogram",
		Buckets: prometheus.DefBuckets,
	})
	require.NoError(t, registry.RegisterHistogram("pipeline", "test_histogram", histogram))
	histogram.Observe(0.5)

	gaugeFamily := gatherFamily(t, registry, "test_gauge")
	require.NotNil(t, gaugeFamily)
	assert.Equal(t, 7.0, gaugeFamily.GetMetric()[0].GetGauge().GetValue())

	histFamily := gatherFamily(t, registry, "test_histogram")
	require.NotNil(t, histFamily)
	assert.Equal(t, uint64(1), histFamily.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestMetricsRegistry_RegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_counter_vec",
		Help: "A test counter vec",
	}, []string{"outcome"})
	require.NoError(t, registry.RegisterCounterVec("dispatcher", "test_counter_vec", counterVec))
	counterVec.WithLabelValues("published").Inc()

	gaugeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "test_gauge_vec",
		Help: "A test gauge vec",
	}, []string{"stage"})
	require.NoError(t, registry.RegisterGaugeVec("dispatcher", "test_gauge_vec", gaugeVec))

	histogramVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_histogram_vec",
		Help: "A test histogram vec",
	}, []string{"stage"})
	require.NoError(t, registry.RegisterHistogramVec("dispatcher", "test_histogram_vec", histogramVec))

	family := gatherFamily(t, registry, "test_counter_vec")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, "published", family.GetMetric()[0].GetLabel()[0].GetValue())
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_counter",
		Help: "A duplicate counter",
	})
	require.NoError(t, registry.RegisterCounter("pipeline", "dup_counter", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_counter",
		Help: "A duplicate counter",
	})
	err := registry.RegisterCounter("pipeline", "dup_counter", other)

	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "duplicate registration should classify as invalid")
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conflict_counter",
		Help: "A counter",
	})
	require.NoError(t, registry.RegisterCounter("pipeline", "conflict_counter", counter))

	// Same collector under a different registry key still collides inside
	// Prometheus itself.
	err := registry.RegisterCounter("other", "conflict_counter", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transient_counter",
		Help: "A counter",
	})
	require.NoError(t, registry.RegisterCounter("pipeline", "transient_counter", counter))

	assert.True(t, registry.Unregister("pipeline", "transient_counter"))
	assert.False(t, registry.Unregister("pipeline", "transient_counter"))
	assert.False(t, registry.Unregister("pipeline", "never_registered"))

	// Can re-register after unregistering
	require.NoError(t, registry.RegisterCounter("pipeline", "transient_counter", counter))
}

func TestMetricsRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_counter_%d", n),
				Help: "A counter",
			})
			errs[n] = registry.RegisterCounter("worker", fmt.Sprintf("concurrent_counter_%d", n), counter)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "registration %d failed", i)
	}
}

func TestMetricsRegistry_RuntimeCollectors(t *testing.T) {
	registry := NewMetricsRegistry()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	foundGo := false
	for _, mf := range families {
		if mf.GetName() == "go_goroutines" {
			foundGo = true
			break
		}
	}
	assert.True(t, foundGo, "registry should include Go runtime collectors")
}
