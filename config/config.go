// Package config defines the application configuration tree and loads
// it from JSON or YAML files with schema validation.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/c360/asyncflow/errors"
	"github.com/c360/asyncflow/pipeline"
)

// Source and sink kind constants
const (
	KindKafka     = "kafka"
	KindJetStream = "jetstream"
	KindHTTPPost  = "httppost"
	KindWebSocket = "websocket"
)

// Config represents the complete application configuration.
// Duration fields are integer nanoseconds when given numerically in a
// config file.
type Config struct {
	Pipeline pipeline.Config `json:"pipeline" yaml:"pipeline"`
	Source   SourceConfig    `json:"source" yaml:"source"`
	Sink     SinkConfig      `json:"sink" yaml:"sink"`
	Log      LogConfig       `json:"log" yaml:"log"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
}

// SourceConfig selects and configures the inbound stream backend
type SourceConfig struct {
	Kind      string                `json:"kind" yaml:"kind"`
	Kafka     KafkaSourceConfig     `json:"kafka,omitempty" yaml:"kafka,omitempty"`
	JetStream JetStreamSourceConfig `json:"jetstream,omitempty" yaml:"jetstream,omitempty"`
}

// KafkaSourceConfig configures the Kafka consumer backend
type KafkaSourceConfig struct {
	Brokers  []string      `json:"brokers" yaml:"brokers"`
	GroupID  string        `json:"group_id" yaml:"group_id"`
	Topic    string        `json:"topic" yaml:"topic"`
	MinBytes int           `json:"min_bytes,omitempty" yaml:"min_bytes,omitempty"`
	MaxBytes int           `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
	MaxWait  time.Duration `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
}

// JetStreamSourceConfig configures the JetStream pull-consumer backend
type JetStreamSourceConfig struct {
	URL     string `json:"url" yaml:"url"`
	Stream  string `json:"stream" yaml:"stream"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Durable string `json:"durable,omitempty" yaml:"durable,omitempty"`
}

// SinkConfig selects and configures the outbound backend
type SinkConfig struct {
	Kind      string              `json:"kind" yaml:"kind"`
	Kafka     KafkaSinkConfig     `json:"kafka,omitempty" yaml:"kafka,omitempty"`
	JetStream JetStreamSinkConfig `json:"jetstream,omitempty" yaml:"jetstream,omitempty"`
	HTTPPost  HTTPPostSinkConfig  `json:"httppost,omitempty" yaml:"httppost,omitempty"`
	WebSocket WebSocketSinkConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// KafkaSinkConfig configures the Kafka producer backend
type KafkaSinkConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
}

// JetStreamSinkConfig configures the JetStream publish backend
type JetStreamSinkConfig struct {
	URL     string `json:"url" yaml:"url"`
	Stream  string `json:"stream" yaml:"stream"`
	Subject string `json:"subject" yaml:"subject"`
}

// HTTPPostSinkConfig configures the HTTP POST backend
type HTTPPostSinkConfig struct {
	URL         string            `json:"url" yaml:"url"`
	ContentType string            `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	MaxRetries  int               `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WebSocketSinkConfig configures the WebSocket broadcast backend
type WebSocketSinkConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
	Path       string `json:"path,omitempty" yaml:"path,omitempty"`
	SendBuffer int    `json:"send_buffer,omitempty" yaml:"send_buffer,omitempty"`
}

// LogConfig configures the application logger
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // json, text
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port,omitempty" yaml:"port,omitempty"`
}

// DefaultConfig returns the configuration used when no file or
// overrides are given: Kafka in, Kafka out, against local brokers. The
// unselected backends carry local defaults too, so switching kinds only
// requires naming a topic or stream.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: pipeline.DefaultConfig(),
		Source: SourceConfig{
			Kind: KindKafka,
			Kafka: KafkaSourceConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "asyncflow-consumer-group",
			},
			JetStream: JetStreamSourceConfig{
				URL:     "nats://localhost:4222",
				Durable: "asyncflow-consumer",
			},
		},
		Sink: SinkConfig{
			Kind: KindKafka,
			Kafka: KafkaSinkConfig{
				Brokers:      []string{"localhost:9092"},
				WriteTimeout: 5 * time.Second,
			},
			JetStream: JetStreamSinkConfig{
				URL: "nats://localhost:4222",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate checks the configuration for contradictions and missing
// required fields. Backend sections are only validated for the selected
// kind.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	switch c.Source.Kind {
	case KindKafka:
		if len(c.Source.Kafka.Brokers) == 0 {
			return invalid("source.kafka.brokers is required")
		}
		if c.Source.Kafka.Topic == "" {
			return invalid("source.kafka.topic is required")
		}
	case KindJetStream:
		if c.Source.JetStream.URL == "" {
			return invalid("source.jetstream.url is required")
		}
		if c.Source.JetStream.Stream == "" {
			return invalid("source.jetstream.stream is required")
		}
	default:
		return invalid(fmt.Sprintf("source.kind %q must be %q or %q", c.Source.Kind, KindKafka, KindJetStream))
	}

	switch c.Sink.Kind {
	case KindKafka:
		if len(c.Sink.Kafka.Brokers) == 0 {
			return invalid("sink.kafka.brokers is required")
		}
		if c.Sink.Kafka.Topic == "" {
			return invalid("sink.kafka.topic is required")
		}
	case KindJetStream:
		if c.Sink.JetStream.URL == "" {
			return invalid("sink.jetstream.url is required")
		}
		if c.Sink.JetStream.Stream == "" {
			return invalid("sink.jetstream.stream is required")
		}
		if c.Sink.JetStream.Subject == "" {
			return invalid("sink.jetstream.subject is required")
		}
	case KindHTTPPost:
		if c.Sink.HTTPPost.URL == "" {
			return invalid("sink.httppost.url is required")
		}
	case KindWebSocket:
		if c.Sink.WebSocket.ListenAddr == "" {
			return invalid("sink.websocket.listen_addr is required")
		}
	default:
		return invalid(fmt.Sprintf("sink.kind %q must be one of %q, %q, %q, %q",
			c.Sink.Kind, KindKafka, KindJetStream, KindHTTPPost, KindWebSocket))
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn, or error", c.Log.Level))
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid(fmt.Sprintf("metrics.port %d is out of range", c.Metrics.Port))
	}

	return nil
}

func invalid(msg string) error {
	return pkgerrors.WrapInvalid(
		fmt.Errorf("%w: %s", pkgerrors.ErrInvalidConfig, msg),
		"Config", "Validate", "check fields")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}
