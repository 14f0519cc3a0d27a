package metric

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/health"
)

// Server exposes metrics and health over HTTP
type Server struct {
	addr     string
	path     string
	server   *http.Server
	registry *MetricsRegistry
	monitor  *health.Monitor
	mu       sync.Mutex // protects server field
}

// NewServer creates a new operational HTTP server with the provided registry.
// The monitor may be nil, in which case /healthz always reports OK.
func NewServer(addr, path string, registry *MetricsRegistry, monitor *health.Monitor) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}

	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
		monitor:  monitor,
	}
}

// routes builds the HTTP mux served by Start
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	handler := promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	)
	mux.Handle(s.path, handler)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.monitor == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
			return
		}

		status := s.monitor.AggregateHealth("asyncflow")
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>AsyncFlow</title></head>
<body>
<h1>AsyncFlow Operational Endpoints</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>`, s.path)
	})

	return mux
}

// Start starts the operational HTTP server. It blocks until the server
// stops, so callers typically run it on its own goroutine.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "cannot start server that is already running")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "metrics registry not provided")
	}

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}
	server := s.server
	s.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on %s", s.addr))
	}
	return nil
}

// Stop stops the operational server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Close()
		s.server = nil // reset server field to allow restart
		if err != nil {
			return errors.WrapTransient(err, "Server", "Stop",
				"close HTTP server")
		}
	}
	return nil
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s%s", s.addr, s.path)
}
