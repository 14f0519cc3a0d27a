package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/asyncflow/pipeline"
)

// clearPipelineEnv removes every ASYNCFLOW_* variable for the duration of
// the test so flag defaults are what they claim to be.
func clearPipelineEnv(t *testing.T) {
	t.Helper()
	for _, env := range flagEnv {
		t.Setenv(env, os.Getenv(env))
		require.NoError(t, os.Unsetenv(env))
	}
}

// parseCLI parses args on a fresh flag set, failing the test on error.
func parseCLI(t *testing.T, args ...string) *CLIConfig {
	t.Helper()
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cli, err := parseFlagsFrom(fs, args)
	require.NoError(t, err)
	return cli
}

func TestParseFlags_Defaults(t *testing.T) {
	clearPipelineEnv(t)

	cli := parseCLI(t)

	assert.Equal(t, "", cli.ConfigPath)
	assert.Equal(t, "localhost:9092", cli.Brokers)
	assert.Equal(t, "asyncflow-consumer-group", cli.GroupID)
	assert.Equal(t, "kafka", cli.SourceKind)
	assert.Equal(t, "kafka", cli.SinkKind)
	assert.Equal(t, "nats://localhost:4222", cli.NATSURL)
	assert.Equal(t, pipeline.DefaultWorkers, cli.Workers)
	assert.Equal(t, pipeline.DefaultMaxInflight, cli.MaxInflight)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, "json", cli.LogFormat)
	assert.Equal(t, 9090, cli.MetricsPort)
	assert.Equal(t, pipeline.DefaultDrainTimeout, cli.ShutdownTimeout)
	assert.False(t, cli.ShowVersion)
	assert.False(t, cli.Validate)

	assert.False(t, cli.overridden("brokers"))
	assert.False(t, cli.overridden("workers"))
}

func TestParseFlags_ExplicitFlags(t *testing.T) {
	clearPipelineEnv(t)

	cli := parseCLI(t,
		"--brokers", "b1:9092,b2:9092",
		"--input-topic", "events.in",
		"--output-topic", "events.out",
		"--workers", "4",
		"--source-kind", "jetstream",
		"--shutdown-timeout", "15s",
	)

	assert.Equal(t, "b1:9092,b2:9092", cli.Brokers)
	assert.Equal(t, "events.in", cli.InputTopic)
	assert.Equal(t, "events.out", cli.OutputTopic)
	assert.Equal(t, 4, cli.Workers)
	assert.Equal(t, "jetstream", cli.SourceKind)
	assert.Equal(t, 15*time.Second, cli.ShutdownTimeout)

	assert.True(t, cli.overridden("brokers"))
	assert.True(t, cli.overridden("workers"))
	assert.True(t, cli.overridden("shutdown-timeout"))
	assert.False(t, cli.overridden("group-id"))
}

func TestParseFlags_ShorthandAliases(t *testing.T) {
	clearPipelineEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cli := parseCLI(t, "-c", path, "-v")

	assert.Equal(t, path, cli.ConfigPath)
	assert.True(t, cli.ShowVersion)
	assert.True(t, cli.overridden("config"), "shorthand should count as the canonical flag")
}

func TestParseFlags_EnvFallback(t *testing.T) {
	clearPipelineEnv(t)
	t.Setenv("ASYNCFLOW_GROUP_ID", "env-group")
	t.Setenv("ASYNCFLOW_WORKERS", "7")

	cli := parseCLI(t)

	assert.Equal(t, "env-group", cli.GroupID)
	assert.Equal(t, 7, cli.Workers)
	assert.True(t, cli.overridden("group-id"))
	assert.True(t, cli.overridden("workers"))
}

func TestParseFlags_FlagBeatsEnv(t *testing.T) {
	clearPipelineEnv(t)
	t.Setenv("ASYNCFLOW_GROUP_ID", "env-group")

	cli := parseCLI(t, "--group-id", "flag-group")

	assert.Equal(t, "flag-group", cli.GroupID)
}

func TestValidateFlags(t *testing.T) {
	clearPipelineEnv(t)

	valid := func() *CLIConfig { return parseCLI(t) }

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"defaults pass", func(*CLIConfig) {}, ""},
		{"missing config file", func(c *CLIConfig) { c.ConfigPath = "/nonexistent/config.yaml" }, "config file"},
		{"bad log level", func(c *CLIConfig) { c.LogLevel = "verbose" }, "log level"},
		{"bad log format", func(c *CLIConfig) { c.LogFormat = "xml" }, "log format"},
		{"bad source kind", func(c *CLIConfig) { c.SourceKind = "rabbitmq" }, "source kind"},
		{"bad sink kind", func(c *CLIConfig) { c.SinkKind = "stdout" }, "sink kind"},
		{"negative metrics port", func(c *CLIConfig) { c.MetricsPort = -1 }, "metrics port"},
		{"huge metrics port", func(c *CLIConfig) { c.MetricsPort = 70000 }, "metrics port"},
		{"negative workers", func(c *CLIConfig) { c.Workers = -1 }, "worker count"},
		{"negative max inflight", func(c *CLIConfig) { c.MaxInflight = -2 }, "max inflight"},
		{"negative shutdown timeout", func(c *CLIConfig) { c.ShutdownTimeout = -time.Second }, "shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := valid()
			tt.mutate(cli)
			err := validateFlags(cli)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateFlags_ConfigFileExists(t *testing.T) {
	clearPipelineEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	cli := parseCLI(t, "--config", path)
	assert.NoError(t, validateFlags(cli))
}

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092"}, splitBrokers("a:9092"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers("a:9092,b:9092"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092 , b:9092 "))
	assert.Equal(t, []string{"a:9092"}, splitBrokers("a:9092,"))
	assert.Nil(t, splitBrokers(""))
}
