// Package httppost provides the HTTP POST sink for the pipeline.
//
// Each publish POSTs one payload to a fixed endpoint. Transient failures are
// retried inside the sink with a quadratic backoff; a 4xx response is a
// rejection and fails the publish immediately.
package httppost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/asyncflow/component"
	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/pipeline"
)

// messageKeyHeader carries the routing key on outgoing requests.
const messageKeyHeader = "X-Message-Key"

// Config holds configuration for the HTTP POST sink.
type Config struct {
	// URL is the endpoint payloads are posted to.
	URL string `json:"url" yaml:"url"`
	// Headers are set on every request, after the content type and key.
	Headers map[string]string `json:"headers" yaml:"headers"`
	// Timeout bounds one request attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MaxRetries is the number of additional attempts after a transient
	// failure. A rejection is never retried.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// ContentType is sent as the request content type.
	ContentType string `json:"content_type" yaml:"content_type"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.URL == "" {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate", "url is required")
	}

	if _, err := url.Parse(c.URL); err != nil {
		return pkgerrors.WrapInvalid(err, "Config", "Validate", "invalid URL format")
	}

	if c.Timeout < 0 || c.Timeout > 5*time.Minute {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5 minutes")
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "Config", "Validate",
			"max_retries must be between 0 and 10")
	}

	return nil
}

// DefaultConfig returns default configuration for the HTTP POST sink.
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8080/webhook",
		Headers:     make(map[string]string),
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		ContentType: "application/json",
	}
}

// Deps holds runtime dependencies for the HTTP POST sink.
type Deps struct {
	Name   string       // Instance name
	Config Config       // Business logic configuration
	Logger *slog.Logger // Runtime dependency
}

// Sink implements pipeline.Sink over HTTP POST requests.
type Sink struct {
	name        string
	url         string
	headers     map[string]string
	maxRetries  int
	contentType string
	httpClient  *http.Client
	logger      *slog.Logger

	// Lifecycle management
	closed    atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	// Metrics
	messagesSent    int64
	messagesRetried int64
	errors          int64
	lastActivity    time.Time
}

// Ensure Sink implements all required interfaces
var _ pipeline.Sink = (*Sink)(nil)
var _ component.HealthReporter = (*Sink)(nil)

// New creates an HTTP POST sink.
func New(deps Deps) (*Sink, error) {
	cfg := deps.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	name := deps.Name
	if name == "" {
		name = "httppost-sink"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "httppost-sink", "url", cfg.URL)
	}

	return &Sink{
		name:        name,
		url:         cfg.URL,
		headers:     cfg.Headers,
		maxRetries:  cfg.MaxRetries,
		contentType: contentType,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		startTime:   time.Now(),
	}, nil
}

// Name returns the instance name used in logs and health reporting.
func (h *Sink) Name() string {
	return h.name
}

// Publish posts one payload and blocks until the endpoint accepts it, the
// retry budget is exhausted, or ctx is cancelled. A non-empty key rides
// along in the request header.
func (h *Sink) Publish(ctx context.Context, key, payload []byte) (pipeline.Receipt, error) {
	if h.closed.Load() {
		return pipeline.Receipt{}, pkgerrors.WrapInvalid(
			fmt.Errorf("sink is closed"), "httppost-sink", "Publish", "check sink state")
	}

	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		// Check context cancellation before each attempt
		select {
		case <-ctx.Done():
			atomic.AddInt64(&h.errors, 1)
			return pipeline.Receipt{}, ctx.Err()
		default:
		}

		if attempt > 0 {
			atomic.AddInt64(&h.messagesRetried, 1)
			// Quadratic backoff with context cancellation
			timer := time.NewTimer(time.Duration(attempt*attempt) * 100 * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				atomic.AddInt64(&h.errors, 1)
				return pipeline.Receipt{}, ctx.Err()
			case <-timer.C:
			}
		}

		err := h.send(ctx, key, payload)
		if err == nil {
			atomic.AddInt64(&h.messagesSent, 1)
			return pipeline.Receipt{
				Destination: h.url,
				Partition:   -1,
				Offset:      -1,
			}, nil
		}
		lastErr = err

		// Rejections are permanent; retrying cannot help.
		if pkgerrors.IsInvalid(err) {
			atomic.AddInt64(&h.errors, 1)
			return pipeline.Receipt{}, err
		}

		h.logger.Warn("post attempt failed",
			"component", "httppost-sink",
			"attempt", attempt+1,
			"error", err)
	}

	atomic.AddInt64(&h.errors, 1)
	return pipeline.Receipt{}, pkgerrors.WrapTransient(lastErr, "httppost-sink", "Publish",
		fmt.Sprintf("gave up after %d attempts", h.maxRetries+1))
}

// send issues a single HTTP POST request.
func (h *Sink) send(ctx context.Context, key, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", h.contentType)
	if len(key) > 0 {
		req.Header.Set(messageKeyHeader, string(key))
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: HTTP %d", pkgerrors.ErrRejected, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	return nil
}

// Close marks the sink closed and releases idle connections. Close is
// idempotent.
func (h *Sink) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.httpClient.CloseIdleConnections()
		h.logger.Info("httppost sink closed",
			"component", "httppost-sink",
			"url", h.url,
			"messages", atomic.LoadInt64(&h.messagesSent))
	}
	return nil
}

// Stats is a point-in-time snapshot of sink counters.
type Stats struct {
	MessagesSent    int64     `json:"messages_sent"`
	MessagesRetried int64     `json:"messages_retried"`
	Errors          int64     `json:"errors"`
	LastActivity    time.Time `json:"last_activity"`
}

// Stats returns current sink statistics.
func (h *Sink) Stats() Stats {
	h.mu.RLock()
	lastActivity := h.lastActivity
	h.mu.RUnlock()

	return Stats{
		MessagesSent:    atomic.LoadInt64(&h.messagesSent),
		MessagesRetried: atomic.LoadInt64(&h.messagesRetried),
		Errors:          atomic.LoadInt64(&h.errors),
		LastActivity:    lastActivity,
	}
}

// Health returns the current health status of the sink.
func (h *Sink) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    !h.closed.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&h.errors)),
		Uptime:     time.Since(h.startTime),
	}
}
