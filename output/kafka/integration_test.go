package kafka

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokersFromEnv returns the broker list for integration tests, or skips the
// test when KAFKA_BROKERS is not set.
func brokersFromEnv(t *testing.T) []string {
	t.Helper()
	raw := os.Getenv("KAFKA_BROKERS")
	if raw == "" {
		t.Skip("set KAFKA_BROKERS to run Kafka integration tests")
	}
	return strings.Split(raw, ",")
}

// createTopic provisions a fresh topic through any reachable broker.
func createTopic(t *testing.T, brokers []string, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	require.NoError(t, err)

	// Leader election can lag behind topic creation.
	time.Sleep(2 * time.Second)
}

func TestIntegration_PublishRoundTrip(t *testing.T) {
	brokers := brokersFromEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := fmt.Sprintf("asyncflow-output-it-%d", time.Now().UnixNano())
	createTopic(t, brokers, topic)

	sink, err := New(Deps{
		Config: Config{
			Brokers: brokers,
			Topic:   topic,
		},
	})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	receipt, err := sink.Publish(ctx, []byte("some key"), []byte("Payload len for hello is 5"))
	require.NoError(t, err)
	assert.Equal(t, topic, receipt.Destination)
	assert.Equal(t, -1, receipt.Partition)
	assert.Equal(t, int64(-1), receipt.Offset)

	_, err = sink.Publish(ctx, []byte("some key"), []byte("Payload len for worlds is 6"))
	require.NoError(t, err)

	stats := sink.Stats()
	assert.Equal(t, int64(2), stats.MessagesSent)
	assert.False(t, stats.LastActivity.IsZero())

	// Read the records back without a consumer group.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer func() { _ = reader.Close() }()

	first, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("some key"), first.Key)
	assert.Equal(t, []byte("Payload len for hello is 5"), first.Value)

	second, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("Payload len for worlds is 6"), second.Value)

	// Same key hashes to the same partition.
	assert.Equal(t, first.Partition, second.Partition)
}
