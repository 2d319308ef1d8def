// Package kafka publishes assembled dataset rows to a topic for downstream
// consumers (the model-evaluation harness). Publishing is optional: the
// builder is fully functional writing only the CSV cache.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/tornado-dataset-etl/internal/config"
	"github.com/couchcryptid/tornado-dataset-etl/internal/domain"
	"github.com/couchcryptid/tornado-dataset-etl/internal/observability"
)

// Writer produces dataset samples to a Kafka topic.
type Writer struct {
	writer  *kafkago.Writer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sample topic.
func NewWriter(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, metrics: metrics, logger: logger}
}

// PublishSamples serializes and publishes a dataset in a single WriteMessages
// call. Message keys combine the cache key and the row date, so re-publishing
// the same build overwrites rather than duplicates under compaction.
func (w *Writer) PublishSamples(ctx context.Context, q domain.Query, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	key := q.CacheKey()
	msgs := make([]kafkago.Message, len(samples))
	for i := range samples {
		msg, err := serializeToMessage(key, q.Region.Name, samples[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish samples: %w", err)
	}

	w.metrics.SamplesPublished.Add(float64(len(msgs)))
	w.logger.Info("samples published", "topic", w.writer.Topic, "rows", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one Sample into a Kafka message.
func serializeToMessage(datasetKey, region string, sample domain.Sample) (kafkago.Message, error) {
	data, err := json.Marshal(sample)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sample: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(datasetKey + "/" + sample.Date.Format(domain.DateFormat)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "region", Value: []byte(region)},
			{Key: "produced_at", Value: []byte(domain.Now().UTC().Format(time.RFC3339))},
		},
	}, nil
}
