package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/asyncflow/errors"
)

// withTopics fills in the fields DefaultConfig cannot guess
func withTopics(cfg *Config) *Config {
	cfg.Source.Kafka.Topic = "input"
	cfg.Sink.Kafka.Topic = "output"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, KindKafka, cfg.Source.Kind)
	assert.Equal(t, KindKafka, cfg.Sink.Kind)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Source.Kafka.Brokers)
	assert.Equal(t, "asyncflow-consumer-group", cfg.Source.Kafka.GroupID)
	assert.Equal(t, 5*time.Second, cfg.Sink.Kafka.WriteTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.Source.JetStream.URL)
	assert.Equal(t, "nats://localhost:4222", cfg.Sink.JetStream.URL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)

	// Topics have no sensible default, so the bare default is incomplete
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	assert.NoError(t, withTopics(cfg).Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid kafka to kafka",
			mutate: func(_ *Config) {},
		},
		{
			name: "valid jetstream source",
			mutate: func(c *Config) {
				c.Source.Kind = KindJetStream
				c.Source.JetStream = JetStreamSourceConfig{URL: "nats://localhost:4222", Stream: "IN"}
			},
		},
		{
			name: "valid httppost sink",
			mutate: func(c *Config) {
				c.Sink.Kind = KindHTTPPost
				c.Sink.HTTPPost.URL = "http://localhost:8080/results"
			},
		},
		{
			name: "valid websocket sink",
			mutate: func(c *Config) {
				c.Sink.Kind = KindWebSocket
				c.Sink.WebSocket.ListenAddr = ":8081"
			},
		},
		{
			name: "unknown source kind",
			mutate: func(c *Config) {
				c.Source.Kind = "rabbitmq"
			},
			wantErr: "source.kind",
		},
		{
			name: "kafka source without topic",
			mutate: func(c *Config) {
				c.Source.Kafka.Topic = ""
			},
			wantErr: "source.kafka.topic",
		},
		{
			name: "kafka source without brokers",
			mutate: func(c *Config) {
				c.Source.Kafka.Brokers = nil
			},
			wantErr: "source.kafka.brokers",
		},
		{
			name: "jetstream source without stream",
			mutate: func(c *Config) {
				c.Source.Kind = KindJetStream
				c.Source.JetStream.URL = "nats://localhost:4222"
			},
			wantErr: "source.jetstream.stream",
		},
		{
			name: "jetstream sink without subject",
			mutate: func(c *Config) {
				c.Sink.Kind = KindJetStream
				c.Sink.JetStream = JetStreamSinkConfig{URL: "nats://localhost:4222", Stream: "OUT"}
			},
			wantErr: "sink.jetstream.subject",
		},
		{
			name: "httppost sink without url",
			mutate: func(c *Config) {
				c.Sink.Kind = KindHTTPPost
			},
			wantErr: "sink.httppost.url",
		},
		{
			name: "unknown sink kind",
			mutate: func(c *Config) {
				c.Sink.Kind = "carrier-pigeon"
			},
			wantErr: "sink.kind",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Log.Level = "verbose"
			},
			wantErr: "log.level",
		},
		{
			name: "bad log format",
			mutate: func(c *Config) {
				c.Log.Format = "xml"
			},
			wantErr: "log.format",
		},
		{
			name: "metrics port out of range",
			mutate: func(c *Config) {
				c.Metrics.Port = 70000
			},
			wantErr: "metrics.port",
		},
		{
			name: "negative pipeline workers",
			mutate: func(c *Config) {
				c.Pipeline.Workers = -1
			},
			wantErr: "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := withTopics(DefaultConfig())
			tt.mutate(cfg)

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

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"pipeline": {"workers": 4, "max_inflight": 64},
		"source": {"kind": "kafka", "kafka": {"brokers": ["broker-1:9092"], "topic": "in"}},
		"sink": {"kind": "kafka", "kafka": {"brokers": ["broker-1:9092"], "topic": "out"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 64, cfg.Pipeline.MaxInflight)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.Source.Kafka.Brokers)
	assert.Equal(t, "in", cfg.Source.Kafka.Topic)

	// Untouched sections keep their defaults
	assert.Equal(t, "asyncflow-consumer-group", cfg.Source.Kafka.GroupID)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
pipeline:
  workers: 2
source:
  kind: jetstream
  jetstream:
    url: nats://localhost:4222
    stream: EVENTS
    durable: asyncflow
sink:
  kind: httppost
  httppost:
    url: http://localhost:8080/results
    max_retries: 3
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pipeline.Workers)
	assert.Equal(t, KindJetStream, cfg.Source.Kind)
	assert.Equal(t, "EVENTS", cfg.Source.JetStream.Stream)
	assert.Equal(t, "asyncflow", cfg.Source.JetStream.Durable)
	assert.Equal(t, KindHTTPPost, cfg.Sink.Kind)
	assert.Equal(t, 3, cfg.Sink.HTTPPost.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeFile(t, "config.json", `{"pipelines": {"workers": 4}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Contains(t, err.Error(), "pipelines")
}

func TestLoad_RejectsWrongType(t *testing.T) {
	path := writeFile(t, "config.yaml", `
pipeline:
  workers: ten
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Contains(t, err.Error(), "workers")
}

func TestLoad_RejectsBadKindValue(t *testing.T) {
	path := writeFile(t, "config.json", `{"source": {"kind": "rabbitmq"}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "::\n\t- not yaml")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestConfig_Clone(t *testing.T) {
	cfg := withTopics(DefaultConfig())
	clone := cfg.Clone()

	clone.Source.Kafka.Brokers[0] = "other:9092"
	clone.Sink.Kafka.Topic = "changed"

	assert.Equal(t, "localhost:9092", cfg.Source.Kafka.Brokers[0])
	assert.Equal(t, "output", cfg.Sink.Kafka.Topic)
}
