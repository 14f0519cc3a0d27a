package component

import (
	"context"
	"testing"
	"time"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateCreated, "created"},
		{StateInitialized, "initialized"},
		{StateStarted, "started"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if got := test.state.String(); got != test.expected {
				t.Errorf("expected %s, got %s", test.expected, got)
			}
		})
	}
}

type fakeComponent struct {
	name        string
	initialized bool
	started     bool
	stopped     bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Initialize() error {
	f.initialized = true
	return nil
}

func (f *fakeComponent) Start(_ context.Context) error {
	f.started = true
	return nil
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	f.stopped = true
	return nil
}

func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: f.started && !f.stopped, LastCheck: time.Now()}
}

func TestComponentContract(t *testing.T) {
	var c Component = &fakeComponent{name: "fake"}

	if c.Name() != "fake" {
		t.Errorf("unexpected name %q", c.Name())
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h := c.Health()
	if !h.Healthy {
		t.Error("component should be healthy after Start")
	}

	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.Health().Healthy {
		t.Error("component should be unhealthy after Stop")
	}
}
