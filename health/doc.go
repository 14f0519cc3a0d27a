// Package health provides health monitoring for AsyncFlow components.
//
// # Overview
//
// The package models component health as a three-level Status (healthy,
// degraded, unhealthy) and aggregates per-component statuses into a system
// view via Monitor. The binary's operational endpoint serves the aggregate.
//
// Components report through component.HealthReporter; FromComponentHealth
// bridges those reports into statuses, sanitizing error messages so URLs,
// paths, addresses, and credentials never leak into health responses.
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("kafka-source", "consuming")
//	monitor.UpdateFromReporter("worker-pool", pool)
//
//	system := monitor.AggregateHealth("asyncflow")
//	if system.IsUnhealthy() {
//	    // ...
//	}
//
// Monitor is safe for concurrent use; statuses returned by Get and GetAll
// are copies.
package health
