package health

import (
	"sync"
	"testing"
	"time"

	"github.com/c360/asyncflow/component"
)

func TestNewMonitor(t *testing.T) {
	monitor := NewMonitor()

	if monitor == nil {
		t.Fatal("NewMonitor() returned nil")
	}

	if monitor.Count() != 0 {
		t.Errorf("New monitor should have 0 components, got %d", monitor.Count())
	}
}

func TestMonitor_Update(t *testing.T) {
	monitor := NewMonitor()

	status := Status{
		Status:  "healthy",
		Healthy: true,
		Message: "consuming",
	}

	monitor.Update("kafka-source", status)

	retrieved, exists := monitor.Get("kafka-source")
	if !exists {
		t.Fatal("component should exist after update")
	}
	if retrieved.Component != "kafka-source" {
		t.Errorf("Update should set component name, got %q", retrieved.Component)
	}
	if retrieved.Timestamp.IsZero() {
		t.Error("Update should set a timestamp when missing")
	}
	if !retrieved.IsHealthy() {
		t.Error("retrieved status should be healthy")
	}
}

func TestMonitor_ConvenienceUpdates(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("source", "ok")
	monitor.UpdateDegraded("pool", "queue backing up")
	monitor.UpdateUnhealthy("sink", "connection refused")

	tests := []struct {
		name     string
		expected string
	}{
		{"source", "healthy"},
		{"pool", "degraded"},
		{"sink", "unhealthy"},
	}

	for _, test := range tests {
		status, exists := monitor.Get(test.name)
		if !exists {
			t.Fatalf("%s should exist", test.name)
		}
		if status.Status != test.expected {
			t.Errorf("%s: expected %s, got %s", test.name, test.expected, status.Status)
		}
	}
}

type staticReporter struct {
	healthy   bool
	lastError string
}

func (r staticReporter) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:   r.healthy,
		LastError: r.lastError,
		LastCheck: time.Now(),
	}
}

func TestMonitor_UpdateFromReporter(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateFromReporter("pool", staticReporter{healthy: true})

	status, exists := monitor.Get("pool")
	if !exists {
		t.Fatal("pool should exist")
	}
	if !status.IsHealthy() {
		t.Error("pool should be healthy")
	}

	monitor.UpdateFromReporter("pool", staticReporter{
		healthy:   false,
		lastError: "dial nats://10.0.0.5:4222 refused",
	})

	status, _ = monitor.Get("pool")
	if status.IsHealthy() {
		t.Error("pool should be unhealthy after failing report")
	}
	if status.Message == "dial nats://10.0.0.5:4222 refused" {
		t.Error("reporter error message should be sanitized")
	}
}

func TestMonitor_GetAll(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("a", "ok")
	monitor.UpdateHealthy("b", "ok")

	all := monitor.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(all))
	}

	// Mutating the copy must not affect the monitor
	delete(all, "a")
	if monitor.Count() != 2 {
		t.Error("GetAll should return a copy")
	}
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	agg := monitor.AggregateHealth("asyncflow")
	if !agg.IsHealthy() {
		t.Error("empty monitor should aggregate healthy")
	}

	monitor.UpdateHealthy("source", "ok")
	monitor.UpdateDegraded("pool", "slow")

	agg = monitor.AggregateHealth("asyncflow")
	if !agg.IsDegraded() {
		t.Errorf("expected degraded aggregate, got %s", agg.Status)
	}

	monitor.UpdateUnhealthy("sink", "down")

	agg = monitor.AggregateHealth("asyncflow")
	if !agg.IsUnhealthy() {
		t.Errorf("expected unhealthy aggregate, got %s", agg.Status)
	}
	if len(agg.SubStatuses) != 3 {
		t.Errorf("expected 3 sub-statuses, got %d", len(agg.SubStatuses))
	}
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				monitor.UpdateHealthy("component", "ok")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				monitor.GetAll()
				monitor.AggregateHealth("system")
			}
		}()
	}
	wg.Wait()

	if monitor.Count() != 1 {
		t.Errorf("expected 1 component after concurrent updates, got %d", monitor.Count())
	}
}
