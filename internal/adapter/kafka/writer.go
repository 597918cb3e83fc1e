// Package kafka announces published day layers on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/heat-risk-etl/internal/config"
	"github.com/couchcryptid/heat-risk-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces publication messages to a Kafka topic.
// It implements publish.Notifier.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Notify publishes one message describing pub. Messages are keyed by day so
// a day's announcements stay ordered within a partition.
func (w *Writer) Notify(ctx context.Context, pub domain.Publication) error {
	msg, err := serializeToMessage(pub)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write publication message: %w", err)
	}
	w.logger.Debug("publication announced", "day", pub.Day, "run_id", pub.RunID, "object_key", pub.ObjectKey)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Publication into a Kafka message.
func serializeToMessage(pub domain.Publication) (kafkago.Message, error) {
	data, err := json.Marshal(pub)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize publication: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(pub.Day),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(pub.RunID)},
			{Key: "published_at", Value: []byte(pub.PublishedAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeMessage parses a message produced by Notify.
func DecodeMessage(msg kafkago.Message) (domain.Publication, error) {
	var pub domain.Publication
	if err := json.Unmarshal(msg.Value, &pub); err != nil {
		return domain.Publication{}, fmt.Errorf("decode publication message: %w", err)
	}
	return pub, nil
}
