// Command asyncflow runs the asynchronous stream processing pipeline:
// consume messages from a broker, fan each one out to a bounded worker
// pool for an expensive computation, and publish results to a sink
// without ever blocking the consumer loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/asyncflow/component"
	"github.com/c360/asyncflow/config"
	"github.com/c360/asyncflow/health"
	inputjetstream "github.com/c360/asyncflow/input/jetstream"
	inputkafka "github.com/c360/asyncflow/input/kafka"
	"github.com/c360/asyncflow/metric"
	"github.com/c360/asyncflow/natsclient"
	"github.com/c360/asyncflow/output/httppost"
	outputjetstream "github.com/c360/asyncflow/output/jetstream"
	outputkafka "github.com/c360/asyncflow/output/kafka"
	"github.com/c360/asyncflow/output/websocket"
	"github.com/c360/asyncflow/pipeline"
	"github.com/c360/asyncflow/pkg/retry"
)

const appName = "asyncflow"

// Version and BuildTime are set at build time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// healthRefreshInterval is how often backend health is re-sampled into
// the monitor that backs the metrics server's /health endpoint.
const healthRefreshInterval = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli, err := parseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse flags: %w", err)
	}

	if cli.ShowVersion {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		cli.usage()
		return nil
	}

	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	if cli.Validate {
		slog.Info("configuration is valid", "config_path", cli.ConfigPath)
		return nil
	}

	// The config file may carry log settings the flags did not touch.
	if cfg.Log.Level != cli.LogLevel || cfg.Log.Format != cli.LogFormat {
		logger = setupLogger(cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)
	}

	slog.Info("starting",
		"version", Version,
		"build_time", BuildTime,
		"source", cfg.Source.Kind,
		"sink", cfg.Sink.Kind,
		"workers", cfg.Pipeline.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		metricsServer := metric.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), "/metrics", registry, monitor)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				slog.Warn("metrics server stop", "error", err)
			}
		}()
		slog.Info("metrics server listening", "address", metricsServer.Address())
	}

	backends, err := buildBackends(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer backends.close(logger)

	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Source:  backends.source,
		Sink:    backends.sink,
		Compute: expensiveComputation(logger),
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	watchHealth(ctx, monitor, backends.reporters, p)

	// Close the source once the context ends so a Fetch blocked on an idle
	// broker unwinds and the event loop can drain.
	go func() {
		<-ctx.Done()
		_ = backends.source.Close()
	}()

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline: %w", err)
	}

	stats := p.Stats()
	slog.Info("shutdown complete",
		"pulled", stats.Pulled,
		"published", stats.Published,
		"publish_failures", stats.PublishFailures)
	return nil
}

// buildConfig loads the config file when one was given, layers explicitly
// set flags and environment variables on top, and validates the result.
func buildConfig(cli *CLIConfig) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cli.ConfigPath != "" {
		loaded, err := config.Load(cli.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	applyOverrides(cfg, cli)

	// Results are published under a fixed key unless the config names one.
	if cfg.Pipeline.DestinationKey == "" {
		cfg.Pipeline.DestinationKey = "some key"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies flag and environment values into cfg, but only for
// options the user actually set. Everything else keeps the file's values.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.overridden("brokers") {
		brokers := splitBrokers(cli.Brokers)
		cfg.Source.Kafka.Brokers = brokers
		cfg.Sink.Kafka.Brokers = brokers
	}
	if cli.overridden("group-id") {
		cfg.Source.Kafka.GroupID = cli.GroupID
	}
	if cli.overridden("source-kind") {
		cfg.Source.Kind = cli.SourceKind
	}
	if cli.overridden("sink-kind") {
		cfg.Sink.Kind = cli.SinkKind
	}
	if cli.overridden("input-topic") {
		cfg.Source.Kafka.Topic = cli.InputTopic
		cfg.Source.JetStream.Stream = cli.InputTopic
	}
	if cli.overridden("output-topic") {
		cfg.Sink.Kafka.Topic = cli.OutputTopic
		cfg.Sink.JetStream.Stream = cli.OutputTopic
	}
	if cli.overridden("nats-url") {
		cfg.Source.JetStream.URL = cli.NATSURL
		cfg.Sink.JetStream.URL = cli.NATSURL
	}
	if cli.overridden("workers") {
		cfg.Pipeline.Workers = cli.Workers
	}
	if cli.overridden("max-inflight") {
		cfg.Pipeline.MaxInflight = cli.MaxInflight
	}
	if cli.overridden("shutdown-timeout") {
		cfg.Pipeline.DrainTimeout = cli.ShutdownTimeout
	}
	if cli.overridden("log-level") {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.overridden("log-format") {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.overridden("metrics-port") {
		cfg.Metrics.Port = cli.MetricsPort
		cfg.Metrics.Enabled = cli.MetricsPort > 0
	}

	// Topic flags double as stream names for JetStream backends. Derive
	// the subject from the stream when the file left it empty.
	if cfg.Source.JetStream.Subject == "" && cfg.Source.JetStream.Stream != "" {
		cfg.Source.JetStream.Subject = strings.ToLower(cfg.Source.JetStream.Stream)
	}
	if cfg.Sink.JetStream.Subject == "" && cfg.Sink.JetStream.Stream != "" {
		cfg.Sink.JetStream.Subject = strings.ToLower(cfg.Sink.JetStream.Stream)
	}
}

// backends bundles the connected source and sink with everything that has
// to be torn down after the pipeline stops.
type backends struct {
	source      pipeline.Source
	sink        pipeline.Sink
	natsClients []*natsclient.Client
	reporters   map[string]component.HealthReporter
}

// buildBackends constructs and connects the source and sink named by cfg.
// JetStream backends sharing a URL share one NATS connection.
func buildBackends(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*backends, error) {
	b := &backends{reporters: make(map[string]component.HealthReporter)}

	clients := make(map[string]*natsclient.Client)
	natsFor := func(url string) (*natsclient.Client, error) {
		if client, ok := clients[url]; ok {
			return client, nil
		}
		client, err := natsclient.NewClient(url,
			natsclient.WithName(appName),
			natsclient.WithMetrics(registry))
		if err != nil {
			return nil, fmt.Errorf("create NATS client: %w", err)
		}
		if err := client.ConnectWithRetry(ctx, retry.DefaultConfig()); err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
		}
		clients[url] = client
		b.natsClients = append(b.natsClients, client)
		return client, nil
	}

	if err := b.buildSource(ctx, cfg, registry, logger, natsFor); err != nil {
		b.close(logger)
		return nil, err
	}
	if err := b.buildSink(ctx, cfg, registry, logger, natsFor); err != nil {
		b.close(logger)
		return nil, err
	}

	return b, nil
}

func (b *backends) buildSource(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger, natsFor func(string) (*natsclient.Client, error)) error {
	switch cfg.Source.Kind {
	case config.KindKafka:
		src, err := inputkafka.New(inputkafka.Deps{
			Name: "kafka-source",
			Config: inputkafka.Config{
				Brokers:  cfg.Source.Kafka.Brokers,
				GroupID:  cfg.Source.Kafka.GroupID,
				Topic:    cfg.Source.Kafka.Topic,
				MinBytes: cfg.Source.Kafka.MinBytes,
				MaxBytes: cfg.Source.Kafka.MaxBytes,
				MaxWait:  cfg.Source.Kafka.MaxWait,
			},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("build kafka source: %w", err)
		}
		b.source = src
		b.reporters["kafka-source"] = src

	case config.KindJetStream:
		client, err := natsFor(cfg.Source.JetStream.URL)
		if err != nil {
			return err
		}
		src, err := inputjetstream.New(ctx, inputjetstream.Deps{
			Name: "jetstream-source",
			Config: inputjetstream.Config{
				Stream:  cfg.Source.JetStream.Stream,
				Subject: cfg.Source.JetStream.Subject,
				Durable: cfg.Source.JetStream.Durable,
			},
			Client:          client,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("build jetstream source: %w", err)
		}
		b.source = src
		b.reporters["jetstream-source"] = src

	default:
		return fmt.Errorf("unsupported source kind %q", cfg.Source.Kind)
	}
	return nil
}

func (b *backends) buildSink(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger, natsFor func(string) (*natsclient.Client, error)) error {
	switch cfg.Sink.Kind {
	case config.KindKafka:
		sink, err := outputkafka.New(outputkafka.Deps{
			Name: "kafka-sink",
			Config: outputkafka.Config{
				Brokers:      cfg.Sink.Kafka.Brokers,
				Topic:        cfg.Sink.Kafka.Topic,
				WriteTimeout: cfg.Sink.Kafka.WriteTimeout,
			},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("build kafka sink: %w", err)
		}
		b.sink = sink
		b.reporters["kafka-sink"] = sink

	case config.KindJetStream:
		client, err := natsFor(cfg.Sink.JetStream.URL)
		if err != nil {
			return err
		}
		sink, err := outputjetstream.New(ctx, outputjetstream.Deps{
			Name: "jetstream-sink",
			Config: outputjetstream.Config{
				Stream:  cfg.Sink.JetStream.Stream,
				Subject: cfg.Sink.JetStream.Subject,
			},
			Client:          client,
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("build jetstream sink: %w", err)
		}
		b.sink = sink
		b.reporters["jetstream-sink"] = sink

	case config.KindHTTPPost:
		sink, err := httppost.New(httppost.Deps{
			Name: "httppost-sink",
			Config: httppost.Config{
				URL:         cfg.Sink.HTTPPost.URL,
				Headers:     cfg.Sink.HTTPPost.Headers,
				Timeout:     cfg.Sink.HTTPPost.Timeout,
				MaxRetries:  cfg.Sink.HTTPPost.MaxRetries,
				ContentType: cfg.Sink.HTTPPost.ContentType,
			},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("build httppost sink: %w", err)
		}
		b.sink = sink
		b.reporters["httppost-sink"] = sink

	case config.KindWebSocket:
		sink, err := websocket.New(websocket.Deps{
			Name: "websocket-sink",
			Config: websocket.Config{
				ListenAddr: cfg.Sink.WebSocket.ListenAddr,
				Path:       cfg.Sink.WebSocket.Path,
				SendBuffer: cfg.Sink.WebSocket.SendBuffer,
			},
			MetricsRegistry: registry,
			Logger:          logger,
		})
		if err != nil {
			return fmt.Errorf("build websocket sink: %w", err)
		}
		b.sink = sink
		b.reporters["websocket-sink"] = sink

	default:
		return fmt.Errorf("unsupported sink kind %q", cfg.Sink.Kind)
	}
	return nil
}

// close tears down whatever was built, in reverse dependency order. Safe
// to call on a partially built set.
func (b *backends) close(logger *slog.Logger) {
	if b.source != nil {
		if err := b.source.Close(); err != nil {
			logger.Warn("source close", "error", err)
		}
	}
	if b.sink != nil {
		if err := b.sink.Close(); err != nil {
			logger.Warn("sink close", "error", err)
		}
	}
	for _, client := range b.natsClients {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS client close", "error", err)
		}
		cancel()
	}
}

// watchHealth seeds the monitor from every backend reporter plus the
// pipeline's own counters and keeps re-sampling them until ctx ends.
func watchHealth(ctx context.Context, monitor *health.Monitor, reporters map[string]component.HealthReporter, p *pipeline.Pipeline) {
	started := time.Now()
	refresh := func() {
		for name, reporter := range reporters {
			monitor.UpdateFromReporter(name, reporter)
		}
		stats := p.Stats()
		status := health.NewHealthy("pipeline", fmt.Sprintf("%d units in flight", stats.InFlight))
		monitor.Update("pipeline", status.WithMetrics(&health.Metrics{
			Uptime:         time.Since(started),
			ErrorCount:     int(stats.ReceiveErrors + stats.PublishFailures + stats.OffloadFailures),
			ItemsProcessed: stats.Published,
		}))
	}
	refresh()

	go func() {
		ticker := time.NewTicker(healthRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
}
