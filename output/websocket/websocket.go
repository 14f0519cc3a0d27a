// Package websocket provides a WebSocket broadcast sink for the pipeline.
//
// The sink runs its own WebSocket server. Every published result is wrapped
// in a small envelope and fanned out to all connected clients through
// per-client queues, so one slow client never stalls the pipeline. When a
// client's queue overflows, its oldest messages are dropped.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/asyncflow/component"
	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/pipeline"
	"github.com/c360/asyncflow/pkg/buffer"
)

// Config holds configuration for the WebSocket sink.
type Config struct {
	// ListenAddr is the TCP address the server binds to. Use ":0" to pick
	// a free port.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	// Path is the WebSocket endpoint path.
	Path string `json:"path" yaml:"path"`
	// SendBuffer is the per-client queue capacity. When the queue is full
	// the oldest message is dropped.
	SendBuffer int `json:"send_buffer" yaml:"send_buffer"`
	// PingInterval is how often clients are pinged. A client that misses
	// two consecutive pings is disconnected.
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate", "listen_addr is required")
	}

	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"path must start with /")
	}

	if c.SendBuffer < 0 || c.SendBuffer > 65536 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"send_buffer must be between 0 and 65536")
	}

	if c.PingInterval < 0 || c.WriteTimeout < 0 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"intervals cannot be negative")
	}

	return nil
}

// DefaultConfig returns default configuration for the WebSocket sink.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8081",
		Path:         "/results",
		SendBuffer:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero values with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.PingInterval == 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// Deps holds runtime dependencies for the WebSocket sink.
type Deps struct {
	Name            string                  // Instance name
	Config          Config                  // Business logic configuration
	MetricsRegistry *metric.MetricsRegistry // Optional Prometheus metrics registry
	Logger          *slog.Logger            // Runtime dependency
}

// MessageEnvelope wraps every frame sent to clients.
type MessageEnvelope struct {
	Type      string          `json:"type"`              // Always "data"
	ID        string          `json:"id"`                // Unique message ID
	Timestamp int64           `json:"timestamp"`         // Unix milliseconds
	Key       string          `json:"key,omitempty"`     // Routing key, if any
	Payload   json.RawMessage `json:"payload,omitempty"` // Result payload
}

// clientInfo holds state for one connected WebSocket client.
type clientInfo struct {
	conn         *websocket.Conn
	connectedAt  time.Time
	queue        buffer.Buffer[[]byte] // Pending outbound frames
	notify       chan struct{}         // Wakes the write pump
	messagesSent int64
	lastPong     atomic.Value // stores time.Time
	closed       atomic.Bool
	closeOnce    sync.Once
	writeMutex   sync.Mutex // gorilla/websocket forbids concurrent writes
}

// Metrics holds Prometheus metrics for the WebSocket sink.
type Metrics struct {
	messagesSent       prometheus.Counter
	bytesSent          prometheus.Counter
	messagesDropped    prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	broadcastDuration  prometheus.Histogram
	errorsTotal        *prometheus.CounterVec
}

// newMetrics creates and registers sink metrics
func newMetrics(registry *metric.MetricsRegistry, _ string) *Metrics {
	// Return nil if no registry provided (nil input = nil feature pattern)
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "messages_sent_total",
			Help:      "Total messages written to WebSocket clients",
		}),

		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to WebSocket clients",
		}),

		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped from full client queues",
		}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "client_connections_total",
			Help:      "Total client connections (including disconnected)",
		}),

		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"disconnect_reason"}),

		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to enqueue one result for all clients",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "asyncflow",
			Subsystem: "websocket_sink",
			Name:      "errors_total",
			Help:      "WebSocket sink errors",
		}, []string{"error_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.messagesSent,
		metrics.bytesSent,
		metrics.messagesDropped,
		metrics.clientsConnected,
		metrics.connectionTotal,
		metrics.disconnectionTotal,
		metrics.broadcastDuration,
		metrics.errorsTotal,
	)

	return metrics
}

// Sink implements pipeline.Sink as a WebSocket broadcast server.
type Sink struct {
	name         string
	path         string
	destination  string
	sendBuffer   int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	// WebSocket server
	listener  net.Listener
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	// Lifecycle management
	shutdown  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	startTime time.Time
	wg        sync.WaitGroup
	mu        sync.RWMutex

	// Message ID generation
	messageIDCounter atomic.Uint64

	// Metrics
	broadcasts      int64
	messagesSent    int64
	bytesSent       int64
	messagesDropped int64
	errors          int64
	lastActivity    time.Time

	// Prometheus metrics
	metrics *Metrics
}

// Ensure Sink implements all required interfaces
var _ pipeline.Sink = (*Sink)(nil)
var _ component.HealthReporter = (*Sink)(nil)

// New creates a WebSocket sink and starts its server. The listener is bound
// before New returns, so Addr reports the actual port even for ":0".
func New(deps Deps) (*Sink, error) {
	cfg := deps.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "websocket-sink"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "websocket-sink")
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, pkgerrors.WrapFatal(err, "websocket-sink", "New",
			fmt.Sprintf("listen on %s", cfg.ListenAddr))
	}

	s := &Sink{
		name:         name,
		path:         cfg.Path,
		destination:  fmt.Sprintf("ws://%s%s", listener.Addr(), cfg.Path),
		sendBuffer:   cfg.SendBuffer,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		listener:     listener,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:   make(map[*websocket.Conn]*clientInfo),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		metrics:   newMetrics(deps.MetricsRegistry, name),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	s.wg.Add(2)
	go s.runServer()
	go s.maintainClients()

	logger.Info("websocket sink listening",
		"component", "websocket-sink",
		"addr", listener.Addr().String(),
		"path", s.path)

	return s, nil
}

// Name returns the instance name used in logs and health reporting.
func (s *Sink) Name() string {
	return s.name
}

// Addr returns the bound listen address.
func (s *Sink) Addr() string {
	return s.listener.Addr().String()
}

// generateMessageID generates a unique message ID for correlation
func (s *Sink) generateMessageID() string {
	counter := s.messageIDCounter.Add(1)
	return fmt.Sprintf("msg-%d-%d", time.Now().UnixMilli(), counter)
}

// runServer runs the HTTP server until Close shuts it down.
func (s *Sink) runServer() {
	defer s.wg.Done()

	err := s.server.Serve(s.listener)
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("websocket server failed",
			"component", "websocket-sink",
			"error", err)
		atomic.AddInt64(&s.errors, 1)
		if s.metrics != nil {
			s.metrics.errorsTotal.WithLabelValues("server").Inc()
		}
	}
}

// handleWebSocket handles new WebSocket connections
func (s *Sink) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(wr, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		if s.metrics != nil {
			s.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		}
		return
	}

	queue, err := buffer.NewCircularBuffer[[]byte](s.sendBuffer,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			atomic.AddInt64(&s.messagesDropped, 1)
			if s.metrics != nil {
				s.metrics.messagesDropped.Inc()
			}
		}),
	)
	if err != nil {
		_ = conn.Close()
		atomic.AddInt64(&s.errors, 1)
		if s.metrics != nil {
			s.metrics.errorsTotal.WithLabelValues("queue_creation").Inc()
		}
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		queue:       queue,
		notify:      make(chan struct{}, 1),
	}
	info.lastPong.Store(time.Now())

	s.clientsMu.Lock()
	s.clients[conn] = info
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionTotal.Inc()
		s.metrics.clientsConnected.Set(float64(clientCount))
	}

	s.logger.Debug("client connected",
		"component", "websocket-sink",
		"remote", conn.RemoteAddr().String(),
		"clients", clientCount)

	s.wg.Add(2)
	go s.readPump(conn, info)
	go s.writePump(conn, info)
}

// readPump consumes inbound frames until the connection dies. Clients are
// passive receivers, so the payloads are discarded; reading keeps the pong
// handler running and detects disconnects.
func (s *Sink) readPump(conn *websocket.Conn, info *clientInfo) {
	defer s.wg.Done()
	defer s.removeClient(conn, info)

	pongWait := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now())
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the client queue onto the connection.
func (s *Sink) writePump(conn *websocket.Conn, info *clientInfo) {
	defer s.wg.Done()
	defer s.removeClient(conn, info)

	for {
		select {
		case <-s.shutdown:
			return
		case <-info.notify:
			for {
				data, ok := info.queue.Read()
				if !ok {
					break
				}
				if err := s.writeFrame(conn, info, data); err != nil {
					atomic.AddInt64(&s.errors, 1)
					if s.metrics != nil {
						s.metrics.errorsTotal.WithLabelValues("client_send").Inc()
					}
					return
				}
			}
		}
	}
}

// writeFrame sends one frame to a client with proper locking.
func (s *Sink) writeFrame(conn *websocket.Conn, info *clientInfo, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}

	atomic.AddInt64(&s.messagesSent, 1)
	atomic.AddInt64(&s.bytesSent, int64(len(data)))
	atomic.AddInt64(&info.messagesSent, 1)
	if s.metrics != nil {
		s.metrics.messagesSent.Inc()
		s.metrics.bytesSent.Add(float64(len(data)))
	}
	return nil
}

// removeClient safely removes a client connection with atomic cleanup
func (s *Sink) removeClient(conn *websocket.Conn, info *clientInfo) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		if s.metrics != nil {
			disconnectReason := "normal"
			if time.Since(info.connectedAt) < 5*time.Second {
				disconnectReason = "early_disconnect"
			}
			s.metrics.disconnectionTotal.WithLabelValues(disconnectReason).Inc()
			s.metrics.clientsConnected.Set(float64(clientCount))
		}

		_ = info.queue.Close()
		_ = conn.Close()

		s.logger.Debug("client disconnected",
			"component", "websocket-sink",
			"remote", conn.RemoteAddr().String(),
			"sent", atomic.LoadInt64(&info.messagesSent),
			"clients", clientCount)
	})
}

// maintainClients pings connected clients so dead ones are detected even
// when no results are flowing.
func (s *Sink) maintainClients() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

// pingClients sends a ping to every connected client.
func (s *Sink) pingClients() {
	s.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*clientInfo, len(s.clients))
	for conn, info := range s.clients {
		if !info.closed.Load() {
			snapshot[conn] = info
		}
	}
	s.clientsMu.RUnlock()

	deadline := time.Now().Add(s.writeTimeout)
	for conn, info := range snapshot {
		// WriteControl is safe to call concurrently with WriteMessage
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			s.removeClient(conn, info)
		}
	}
}

// Publish wraps the payload in an envelope and enqueues it for every
// connected client. Publish never blocks on slow clients; a full client
// queue drops its oldest frame instead. Publishing with no clients
// connected succeeds and the result is discarded. The receipt reports the
// number of recipients in Partition.
func (s *Sink) Publish(ctx context.Context, key, payload []byte) (pipeline.Receipt, error) {
	if s.closed.Load() {
		return pipeline.Receipt{}, pkgerrors.WrapInvalid(
			fmt.Errorf("sink is closed"), "websocket-sink", "Publish", "check sink state")
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Receipt{}, err
	}

	start := time.Now()
	envelopeData := s.encodeEnvelope(key, payload)

	s.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*clientInfo, len(s.clients))
	for conn, info := range s.clients {
		if !info.closed.Load() {
			snapshot[conn] = info
		}
	}
	s.clientsMu.RUnlock()

	delivered := 0
	for _, info := range snapshot {
		if err := info.queue.Write(envelopeData); err != nil {
			// Queue closed while the client disconnects; skip it.
			continue
		}
		select {
		case info.notify <- struct{}{}:
		default:
		}
		delivered++
	}

	atomic.AddInt64(&s.broadcasts, 1)
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}

	return pipeline.Receipt{
		Destination: s.destination,
		Partition:   delivered,
		Offset:      -1,
	}, nil
}

// encodeEnvelope wraps a result in a MessageEnvelope frame. Non-JSON
// payloads are carried as a JSON string.
func (s *Sink) encodeEnvelope(key, payload []byte) []byte {
	var raw json.RawMessage
	if json.Valid(payload) {
		raw = json.RawMessage(payload)
	} else {
		quoted, _ := json.Marshal(string(payload))
		raw = json.RawMessage(quoted)
	}

	envelope := MessageEnvelope{
		Type:      "data",
		ID:        s.generateMessageID(),
		Timestamp: time.Now().UnixMilli(),
		Key:       string(key),
		Payload:   raw,
	}

	envelopeData, err := json.Marshal(envelope)
	if err != nil {
		atomic.AddInt64(&s.errors, 1)
		if s.metrics != nil {
			s.metrics.errorsTotal.WithLabelValues("envelope_marshal").Inc()
		}
		return payload
	}
	return envelopeData
}

// Close shuts the server down, disconnects all clients, and waits for the
// pumps to exit. Close is idempotent.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.shutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown error",
				"component", "websocket-sink",
				"error", err)
		}

		s.clientsMu.Lock()
		conns := make([]*websocket.Conn, 0, len(s.clients))
		infos := make([]*clientInfo, 0, len(s.clients))
		for conn, info := range s.clients {
			conns = append(conns, conn)
			infos = append(infos, info)
		}
		s.clientsMu.Unlock()
		for i, conn := range conns {
			s.removeClient(conn, infos[i])
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.logger.Warn("websocket goroutines did not exit within timeout",
				"component", "websocket-sink")
		}

		s.logger.Info("websocket sink closed",
			"component", "websocket-sink",
			"broadcasts", atomic.LoadInt64(&s.broadcasts),
			"messages", atomic.LoadInt64(&s.messagesSent))
	})
	return nil
}

// Stats is a point-in-time snapshot of sink counters.
type Stats struct {
	Broadcasts       int64     `json:"broadcasts"`
	MessagesSent     int64     `json:"messages_sent"`
	BytesSent        int64     `json:"bytes_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	Errors           int64     `json:"errors"`
	ClientsConnected int       `json:"clients_connected"`
	LastActivity     time.Time `json:"last_activity"`
}

// Stats returns current sink statistics.
func (s *Sink) Stats() Stats {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	s.mu.RLock()
	lastActivity := s.lastActivity
	s.mu.RUnlock()

	return Stats{
		Broadcasts:       atomic.LoadInt64(&s.broadcasts),
		MessagesSent:     atomic.LoadInt64(&s.messagesSent),
		BytesSent:        atomic.LoadInt64(&s.bytesSent),
		MessagesDropped:  atomic.LoadInt64(&s.messagesDropped),
		Errors:           atomic.LoadInt64(&s.errors),
		ClientsConnected: clientCount,
		LastActivity:     lastActivity,
	}
}

// Health returns the current health status of the sink.
func (s *Sink) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !s.closed.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&s.errors)),
		Uptime:     time.Since(s.startTime),
	}
}
