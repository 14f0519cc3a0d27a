// Package metric provides Prometheus metrics management for AsyncFlow.
//
// # Overview
//
// MetricsRegistry wraps a dedicated prometheus.Registry (with Go runtime and
// process collectors pre-registered) and tracks registrations under
// "component.metric" keys so duplicate names fail fast with a classified
// error instead of a Prometheus panic.
//
// Components receive the registry through their Deps struct and register
// their collectors during construction. A nil registry disables metrics: the
// component constructors skip registration and their metric handles stay
// nil-safe.
//
// Server exposes the registry over HTTP (promhttp with OpenMetrics enabled)
// together with a /healthz endpoint backed by the health monitor, for
// scraping and liveness probes.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry, monitor)
//	go func() { _ = server.Start() }()
//	defer server.Stop()
package metric
