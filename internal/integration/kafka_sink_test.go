//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	kafkaadapter "github.com/couchcryptid/tornado-dataset-etl/internal/adapter/kafka"
	"github.com/couchcryptid/tornado-dataset-etl/internal/config"
	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

const testSampleTopic = "test-tornado-day-samples"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-broker Kafka container and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.6.1",
		tckafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func testQuery(t *testing.T) domain.Query {
	t.Helper()
	r, err := domain.NewDateRange(
		time.Date(2020, time.May, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2020, time.May, 3, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	return domain.Query{
		Range:  r,
		Region: domain.Region{Name: "Kansas", South: 37.0, North: 40.0, West: -102.0, East: -94.6},
		Hour:   18,
	}
}

func testSamples() []domain.Sample {
	mk := func(day int, tornado bool) domain.Sample {
		return domain.Sample{
			Date: time.Date(2020, time.May, day, 0, 0, 0, 0, time.UTC),
			Features: domain.FeatureVector{
				MeanCAPE: float64(day) * 500, MeanTemp2M: 300, MeanDewpoint2M: 290,
				MeanUWind10M: 3, MeanVWind10M: 4, MeanSurfacePressure: 96500,
				WindSpeed: 5, DewpointDepression: 10,
			},
			Tornado: tornado,
		}
	}
	return []domain.Sample{mk(1, false), mk(2, true), mk(3, false)}
}

// TestPublishSamples publishes an assembled dataset through the real broker and
// verifies keys, headers, and labels on the consumed messages.
func TestPublishSamples(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSampleTopic)

	cfg := &config.Config{
		KafkaBrokers: []string{broker},
		KafkaTopic:   testSampleTopic,
	}

	writer := kafkaadapter.NewWriter(cfg, observability.NewMetricsForTesting(), discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	q := testQuery(t)
	samples := testSamples()
	require.NoError(t, writer.PublishSamples(ctx, q, samples))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSampleTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	key := q.CacheKey()
	for i := range samples {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read sample %d from topic", i)

		wantKey := key + "/" + samples[i].Date.Format(domain.DateFormat)
		assert.Equal(t, wantKey, string(msg.Key))

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "Kansas", headers["region"])
		_, err = time.Parse(time.RFC3339, headers["produced_at"])
		assert.NoError(t, err, "produced_at should be valid RFC3339")

		var got domain.Sample
		require.NoError(t, json.Unmarshal(msg.Value, &got))
		assert.Equal(t, samples[i].Date, got.Date)
		assert.Equal(t, samples[i].Tornado, got.Tornado)
		assert.InDelta(t, samples[i].Features.WindSpeed, got.Features.WindSpeed, 1e-9)
	}

	// Republishing the same build keys identically, so compaction would
	// collapse the duplicates rather than grow the topic.
	require.NoError(t, writer.PublishSamples(ctx, q, samples))
	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	msg, err := consumer.ReadMessage(readCtx)
	readCancel()
	require.NoError(t, err)
	assert.Equal(t, key+"/"+samples[0].Date.Format(domain.DateFormat), string(msg.Key))
}
