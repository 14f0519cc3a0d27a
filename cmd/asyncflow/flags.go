package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/asyncflow/config"
	"github.com/c360/asyncflow/pipeline"
)

// CLIConfig holds parsed command-line configuration. Every option can also
// be supplied through an ASYNCFLOW_* environment variable; explicit flags
// win over the environment, and both win over the config file.
type CLIConfig struct {
	ConfigPath      string
	Brokers         string
	GroupID         string
	InputTopic      string
	OutputTopic     string
	SourceKind      string
	SinkKind        string
	NATSURL         string
	Workers         int
	MaxInflight     int
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool

	// set records which flags were given on the command line, keyed by
	// canonical flag name.
	set   map[string]bool
	usage func()
}

// flagEnv maps canonical flag names to their environment fallbacks.
var flagEnv = map[string]string{
	"config":           "ASYNCFLOW_CONFIG",
	"brokers":          "ASYNCFLOW_BROKERS",
	"group-id":         "ASYNCFLOW_GROUP_ID",
	"input-topic":      "ASYNCFLOW_INPUT_TOPIC",
	"output-topic":     "ASYNCFLOW_OUTPUT_TOPIC",
	"source-kind":      "ASYNCFLOW_SOURCE_KIND",
	"sink-kind":        "ASYNCFLOW_SINK_KIND",
	"nats-url":         "ASYNCFLOW_NATS_URL",
	"workers":          "ASYNCFLOW_WORKERS",
	"max-inflight":     "ASYNCFLOW_MAX_INFLIGHT",
	"log-level":        "ASYNCFLOW_LOG_LEVEL",
	"log-format":       "ASYNCFLOW_LOG_FORMAT",
	"metrics-port":     "ASYNCFLOW_METRICS_PORT",
	"shutdown-timeout": "ASYNCFLOW_SHUTDOWN_TIMEOUT",
}

// flagAlias maps shorthand flag names to their canonical names.
var flagAlias = map[string]string{
	"c": "config",
	"v": "version",
	"h": "help",
}

// overridden reports whether the named flag was set explicitly, either on
// the command line or through its environment variable. Values that were
// not overridden keep whatever the config file or defaults say.
func (c *CLIConfig) overridden(name string) bool {
	if c.set[name] {
		return true
	}
	if env, ok := flagEnv[name]; ok {
		if _, present := os.LookupEnv(env); present {
			return true
		}
	}
	return false
}

// parseFlags parses os.Args using a fresh flag set.
func parseFlags() (*CLIConfig, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	return parseFlagsFrom(fs, os.Args[1:])
}

// parseFlagsFrom registers all flags on fs and parses args. Split out from
// parseFlags so tests can drive it with their own argument lists.
func parseFlagsFrom(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{set: make(map[string]bool)}

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("ASYNCFLOW_CONFIG", ""),
		"Path to configuration file (JSON or YAML)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("ASYNCFLOW_CONFIG", ""),
		"Path to configuration file (shorthand)")

	fs.StringVar(&cfg.Brokers, "brokers", getEnv("ASYNCFLOW_BROKERS", "localhost:9092"),
		"Comma-separated Kafka broker addresses for source and sink")
	fs.StringVar(&cfg.GroupID, "group-id", getEnv("ASYNCFLOW_GROUP_ID", "asyncflow-consumer-group"),
		"Kafka consumer group id")
	fs.StringVar(&cfg.InputTopic, "input-topic", getEnv("ASYNCFLOW_INPUT_TOPIC", ""),
		"Topic or stream to consume from")
	fs.StringVar(&cfg.OutputTopic, "output-topic", getEnv("ASYNCFLOW_OUTPUT_TOPIC", ""),
		"Topic or stream to publish results to")
	fs.StringVar(&cfg.SourceKind, "source-kind", getEnv("ASYNCFLOW_SOURCE_KIND", "kafka"),
		"Source backend: kafka or jetstream")
	fs.StringVar(&cfg.SinkKind, "sink-kind", getEnv("ASYNCFLOW_SINK_KIND", "kafka"),
		"Sink backend: kafka, jetstream, httppost or websocket")
	fs.StringVar(&cfg.NATSURL, "nats-url", getEnv("ASYNCFLOW_NATS_URL", "nats://localhost:4222"),
		"NATS server URL for JetStream backends")

	fs.IntVar(&cfg.Workers, "workers", getEnvInt("ASYNCFLOW_WORKERS", pipeline.DefaultWorkers),
		"Number of computation workers")
	fs.IntVar(&cfg.MaxInflight, "max-inflight", getEnvInt("ASYNCFLOW_MAX_INFLIGHT", pipeline.DefaultMaxInflight),
		"Maximum messages processed concurrently")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("ASYNCFLOW_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("ASYNCFLOW_LOG_FORMAT", "json"),
		"Log format: json or text")

	fs.IntVar(&cfg.MetricsPort, "metrics-port", getEnvInt("ASYNCFLOW_METRICS_PORT", 9090),
		"Prometheus metrics port (0 disables the metrics server)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", getEnvDuration("ASYNCFLOW_SHUTDOWN_TIMEOUT", pipeline.DefaultDrainTimeout),
		"How long to wait for in-flight messages on shutdown")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version and exit")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version and exit (shorthand)")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show detailed help and exit")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show detailed help and exit (shorthand)")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs) }
	cfg.usage = fs.Usage

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if canonical, ok := flagAlias[name]; ok {
			name = canonical
		}
		cfg.set[name] = true
	})

	return cfg, nil
}

// validateFlags rejects flag values that cannot possibly work before any
// backend is touched.
func validateFlags(cfg *CLIConfig) error {
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file %q: %w", cfg.ConfigPath, err)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q (valid: %s)",
			cfg.LogLevel, strings.Join(validLevels, ", "))
	}

	validFormats := []string{"json", "text"}
	if !slices.Contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format %q (valid: %s)",
			cfg.LogFormat, strings.Join(validFormats, ", "))
	}

	validSources := []string{config.KindKafka, config.KindJetStream}
	if !slices.Contains(validSources, cfg.SourceKind) {
		return fmt.Errorf("invalid source kind %q (valid: %s)",
			cfg.SourceKind, strings.Join(validSources, ", "))
	}

	validSinks := []string{config.KindKafka, config.KindJetStream, config.KindHTTPPost, config.KindWebSocket}
	if !slices.Contains(validSinks, cfg.SinkKind) {
		return fmt.Errorf("invalid sink kind %q (valid: %s)",
			cfg.SinkKind, strings.Join(validSinks, ", "))
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port %d (valid: 0-65535)", cfg.MetricsPort)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("invalid worker count %d", cfg.Workers)
	}
	if cfg.MaxInflight < 0 {
		return fmt.Errorf("invalid max inflight %d", cfg.MaxInflight)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout %s", cfg.ShutdownTimeout)
	}

	return nil
}

// splitBrokers turns a comma-separated broker list into a slice, dropping
// empty entries so trailing commas are harmless.
func splitBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// printDetailedHelp writes usage information with examples to stderr.
func printDetailedHelp(fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(os.Stderr, `%s - asynchronous stream processing pipeline

Consumes messages from a stream source, runs an expensive computation on a
bounded worker pool, and publishes results to a sink without blocking the
consumer loop.

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Kafka to Kafka on a local broker
  %s --input-topic events.in --output-topic events.out

  # JetStream source with a WebSocket fan-out sink
  %s --source-kind jetstream --input-topic EVENTS --sink-kind websocket

  # Configuration through the environment
  export ASYNCFLOW_BROKERS=broker-1:9092,broker-2:9092
  export ASYNCFLOW_INPUT_TOPIC=events.in
  export ASYNCFLOW_OUTPUT_TOPIC=events.out
  %s

  # Validate a config file without starting the pipeline
  %s --config /etc/asyncflow/config.yaml --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
