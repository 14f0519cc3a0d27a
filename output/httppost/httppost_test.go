package httppost

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/asyncflow/errors"
)

func testConfig(url string) Config {
	return Config{
		URL:         url,
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		ContentType: "application/json",
	}
}

func newTestSink(t *testing.T, cfg Config) *Sink {
	t.Helper()
	sink, err := New(Deps{Name: "httppost-sink-test", Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.URL = "" },
			wantErr: "url is required",
		},
		{
			name:    "malformed url",
			mutate:  func(c *Config) { c.URL = "ht tp://backend" },
			wantErr: "invalid URL format",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Timeout = -time.Second },
			wantErr: "timeout",
		},
		{
			name:    "timeout too large",
			mutate:  func(c *Config) { c.Timeout = time.Hour },
			wantErr: "timeout",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "max_retries",
		},
		{
			name:    "too many retries",
			mutate:  func(c *Config) { c.MaxRetries = 11 },
			wantErr: "max_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost:9999/hook")
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "application/json", cfg.ContentType)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNew_Defaults(t *testing.T) {
	sink, err := New(Deps{Config: Config{URL: "http://localhost:9999/hook"}})
	require.NoError(t, err)
	defer sink.Close()

	assert.Equal(t, "httppost-sink", sink.Name())
	assert.Equal(t, "application/json", sink.contentType)
	assert.Equal(t, 30*time.Second, sink.httpClient.Timeout)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Deps{Config: Config{}})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestPublish_Success(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotKey, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotKey = r.Header.Get(messageKeyHeader)
		gotCustom = r.Header.Get("X-Team")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Headers = map[string]string{"X-Team": "pipeline"}
	sink := newTestSink(t, cfg)

	receipt, err := sink.Publish(context.Background(), []byte("some key"), []byte(`{"len":42}`))
	require.NoError(t, err)

	assert.Equal(t, server.URL, receipt.Destination)
	assert.Equal(t, -1, receipt.Partition)
	assert.Equal(t, int64(-1), receipt.Offset)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "some key", gotKey)
	assert.Equal(t, "pipeline", gotCustom)
	assert.Equal(t, `{"len":42}`, string(gotBody))

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(0), stats.MessagesRetried)
	assert.False(t, stats.LastActivity.IsZero())
}

func TestPublish_EmptyKeyOmitsHeader(t *testing.T) {
	var hasKey bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasKey = r.Header[messageKeyHeader]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := newTestSink(t, testConfig(server.URL))

	_, err := sink.Publish(context.Background(), nil, []byte("No payload"))
	require.NoError(t, err)
	assert.False(t, hasKey)
}

func TestPublish_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := newTestSink(t, testConfig(server.URL))

	receipt, err := sink.Publish(context.Background(), nil, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, server.URL, receipt.Destination)
	assert.Equal(t, int64(3), calls.Load())

	stats := sink.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(2), stats.MessagesRetried)
}

func TestPublish_RejectedWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := newTestSink(t, testConfig(server.URL))

	_, err := sink.Publish(context.Background(), nil, []byte("payload"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrRejected)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Equal(t, int64(1), calls.Load(), "rejections must not be retried")

	stats := sink.Stats()
	assert.Equal(t, int64(0), stats.MessagesSent)
	assert.Equal(t, int64(1), stats.Errors)
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 2
	sink := newTestSink(t, cfg)

	_, err := sink.Publish(context.Background(), nil, []byte("payload"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Equal(t, int64(3), calls.Load())
}

func TestPublish_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxRetries = 10
	sink := newTestSink(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := sink.Publish(ctx, nil, []byte("payload"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublish_AfterClose(t *testing.T) {
	sink := newTestSink(t, testConfig("http://localhost:9999/hook"))
	require.NoError(t, sink.Close())

	_, err := sink.Publish(context.Background(), nil, []byte("payload"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Contains(t, err.Error(), "closed")
}

func TestClose_Idempotent(t *testing.T) {
	sink := newTestSink(t, testConfig("http://localhost:9999/hook"))
	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Close())
}

func TestHealth(t *testing.T) {
	sink := newTestSink(t, testConfig("http://localhost:9999/hook"))

	health := sink.Health()
	assert.True(t, health.Healthy)
	assert.GreaterOrEqual(t, health.Uptime, time.Duration(0))

	require.NoError(t, sink.Close())
	assert.False(t, sink.Health().Healthy)
}
