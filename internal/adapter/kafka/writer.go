package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/config"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

// Header keys set on every change message.
const (
	headerTable       = "table"
	headerChangeType  = "change_type"
	headerPublishedAt = "published_at"
)

// Writer publishes row changes to the changes topic.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured changes topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaChangesTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes the changes in a single WriteMessages call.
// Messages are keyed by table so each table's changes stay ordered.
func (w *Writer) Publish(ctx context.Context, changes ...backend.Change) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(changes))
	for i := range changes {
		msg, err := serializeToMessage(changes[i], domain.Now())
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish changes: %w", err)
	}
	w.logger.Debug("published changes", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a change into a Kafka message.
func serializeToMessage(change backend.Change, now time.Time) (kafkago.Message, error) {
	if change.Table == "" {
		return kafkago.Message{}, fmt.Errorf("serialize change: table is required")
	}
	data, err := json.Marshal(change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(change.Table),
		Value: data,
		Headers: []kafkago.Header{
			{Key: headerTable, Value: []byte(change.Table)},
			{Key: headerChangeType, Value: []byte(change.Type)},
			{Key: headerPublishedAt, Value: []byte(now.UTC().Format(time.RFC3339))},
		},
	}, nil
}
