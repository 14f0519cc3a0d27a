package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/asyncflow/metric"
)

// startNATSContainer starts a NATS container with JetStream enabled and
// returns it with the client URL.
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js", "-m", "8222"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)

	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Give the server a moment to finish JetStream init
	time.Sleep(200 * time.Millisecond)

	return natsContainer, natsURL
}

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	assert.True(t, client.IsHealthy())
	assert.Equal(t, StatusConnected, client.Status())

	rtt, err := client.RTT()
	assert.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	received := make(chan string, 1)
	err = client.Subscribe(ctx, "test.subject", func(_ context.Context, data []byte) {
		received <- string(data)
	})
	require.NoError(t, err)

	testMessage := "Hello NATS"
	err = client.Publish(ctx, "test.subject", []byte(testMessage))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, testMessage, msg)
	case <-time.After(1 * time.Second):
		t.Fatal("Message not received")
	}
}

func TestIntegration_EnsureStreamAndPullConsumer(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	streamCfg := jetstream.StreamConfig{
		Name:     "TEST_STREAM",
		Subjects: []string{"test.>"},
	}
	_, err = client.EnsureStream(ctx, streamCfg)
	require.NoError(t, err)

	// EnsureStream converges on an existing stream
	_, err = client.EnsureStream(ctx, streamCfg)
	require.NoError(t, err)

	ack, err := client.PublishToStream(ctx, "test.data", []byte("stream message"))
	require.NoError(t, err)
	assert.Equal(t, "TEST_STREAM", ack.Stream)
	assert.Greater(t, ack.Sequence, uint64(0))

	consumer, err := client.PullConsumer(ctx, "TEST_STREAM", jetstream.ConsumerConfig{
		Durable:       "test-consumer",
		FilterSubject: "test.>",
	})
	require.NoError(t, err)

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)

	var got []byte
	for msg := range msgs.Messages() {
		got = msg.Data()
		require.NoError(t, msg.Ack())
	}
	require.NoError(t, msgs.Error())
	assert.Equal(t, []byte("stream message"), got)
}

func TestIntegration_PublishMsgCarriesHeaders(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "HDR_STREAM",
		Subjects: []string{"hdr.>"},
	})
	require.NoError(t, err)

	msg := &nats.Msg{
		Subject: "hdr.data",
		Data:    []byte("payload"),
		Header:  nats.Header{"X-Message-Key": []string{"some key"}},
	}
	ack, err := client.PublishMsgToStream(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "HDR_STREAM", ack.Stream)

	consumer, err := client.PullConsumer(ctx, "HDR_STREAM", jetstream.ConsumerConfig{
		Durable: "hdr-consumer",
	})
	require.NoError(t, err)

	msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	require.NoError(t, err)

	for m := range msgs.Messages() {
		assert.Equal(t, "some key", m.Headers().Get("X-Message-Key"))
		require.NoError(t, m.Ack())
	}
	require.NoError(t, msgs.Error())
}

func TestIntegration_HealthMonitoring(t *testing.T) {
	ctx := context.Background()

	natsContainer, natsURL := startNATSContainer(ctx, t)
	defer natsContainer.Terminate(ctx)

	client, err := NewClient(natsURL)
	require.NoError(t, err)
	client.WithHealthCheck(100 * time.Millisecond)

	healthChanges := make(chan bool, 10)
	client.OnHealthChange(func(healthy bool) {
		healthChanges <- healthy
	})

	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	select {
	case healthy := <-healthChanges:
		assert.True(t, healthy)
	case <-time.After(200 * time.Millisecond):
		// Initial state might already be healthy
	}

	err = natsContainer.Stop(ctx, nil)
	require.NoError(t, err)

	select {
	case healthy := <-healthChanges:
		assert.False(t, healthy)
	case <-time.After(2 * time.Second):
		t.Fatal("Health change not detected")
	}
}

func TestIntegration_JetStreamMetrics(t *testing.T) {
	ctx := context.Background()

	container, natsURL := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	metricsRegistry := metric.NewMetricsRegistry()

	client, err := NewClient(natsURL,
		WithMetrics(metricsRegistry),
	)
	require.NoError(t, err)

	err = client.Connect(ctx)
	require.NoError(t, err)
	defer client.Close(ctx)

	streamCfg := jetstream.StreamConfig{
		Name:     "TEST_METRICS",
		Subjects: []string{"test.metrics.>"},
	}
	stream, err := client.EnsureStream(ctx, streamCfg)
	require.NoError(t, err)
	require.NotNil(t, stream)

	for i := 0; i < 5; i++ {
		_, err := client.PublishToStream(ctx, "test.metrics.msg", []byte(fmt.Sprintf("test message %d", i)))
		require.NoError(t, err)
	}

	// Poller runs every 30s, trigger an update directly
	client.jsMetrics.updateStats(ctx)

	metricFamilies, err := metricsRegistry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	metricsByName := make(map[string]*dto.MetricFamily)
	for _, mf := range metricFamilies {
		metricsByName[*mf.Name] = mf
	}

	streamMessages := metricsByName["asyncflow_jetstream_stream_messages"]
	require.NotNil(t, streamMessages, "stream messages metric should exist")
	assert.Equal(t, float64(5), *streamMessages.Metric[0].Gauge.Value)

	streamBytes := metricsByName["asyncflow_jetstream_stream_bytes"]
	require.NotNil(t, streamBytes, "stream bytes metric should exist")
	assert.Greater(t, *streamBytes.Metric[0].Gauge.Value, float64(0))

	streamState := metricsByName["asyncflow_jetstream_stream_state"]
	require.NotNil(t, streamState, "stream state metric should exist")
	assert.Equal(t, float64(1), *streamState.Metric[0].Gauge.Value, "stream should be active")
}
