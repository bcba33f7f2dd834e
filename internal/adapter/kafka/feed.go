// Package kafka streams backend row changes over a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/config"
)

// messageReader is the subset of *kafkago.Reader the feed uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Feed implements backend.ChangeFeed over the changes topic. Every
// subscription gets its own consumer group so tables are consumed
// independently.
type Feed struct {
	brokers   []string
	topic     string
	groupID   string
	logger    *slog.Logger
	newReader func(table string) messageReader
}

// NewFeed creates a change feed for the configured topic.
func NewFeed(cfg *config.Config, logger *slog.Logger) *Feed {
	f := &Feed{
		brokers: cfg.KafkaBrokers,
		topic:   cfg.KafkaChangesTopic,
		groupID: cfg.KafkaGroupID,
		logger:  logger,
	}
	f.newReader = f.kafkaReader
	return f
}

func (f *Feed) kafkaReader(table string) messageReader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: f.brokers,
		Topic:   f.topic,
		GroupID: f.groupID + "." + table,
		// New groups only see changes published from now on; the
		// aggregator's initial load covers everything before.
		StartOffset: kafkago.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
}

// Subscribe starts consuming changes for table. fn is called from a single
// goroutine in topic order.
func (f *Feed) Subscribe(ctx context.Context, table string, fn func(backend.Change)) (backend.Subscription, error) {
	if table == "" {
		return nil, errors.New("subscribe: table is required")
	}
	sub := backend.NewBaseSubscription()
	reader := f.newReader(table)

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sub.Stopping():
			cancel()
		case <-loopCtx.Done():
		}
	}()

	go func() {
		defer cancel()
		err := f.consume(loopCtx, reader, table, fn)
		if cerr := reader.Close(); cerr != nil {
			f.logger.Warn("close change reader", "table", table, "error", cerr)
		}
		sub.Finish(err)
	}()

	f.logger.Info("kafka change feed subscribed", "table", table, "topic", f.topic)
	return sub, nil
}

// consume runs until the context ends or the reader fails. Messages for
// other tables and undecodable messages are committed and skipped.
func (f *Feed) consume(ctx context.Context, r messageReader, table string, fn func(backend.Change)) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch change: %w", err)
		}

		if messageTable(msg) == table {
			change, err := backend.DecodeChange(msg.Value)
			switch {
			case err != nil:
				f.logger.Warn("undecodable change, skipping", "error", err,
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			case change.Table != table:
				f.logger.Warn("change table does not match message", "table", change.Table, "want", table)
			default:
				fn(change)
			}
		}

		if err := r.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("commit change offset failed", "error", err,
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

// messageTable reads the table header, falling back to the message key.
func messageTable(msg kafkago.Message) string {
	for _, h := range msg.Headers {
		if h.Key == headerTable {
			return string(h.Value)
		}
	}
	return string(msg.Key)
}
