package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	kafkaadapter "github.com/couchcryptid/city-pulse/internal/adapter/kafka"
	"github.com/couchcryptid/city-pulse/internal/adapter/postgres"
	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/config"
)

type publishOptions struct {
	brokers     []string
	topic       string
	databaseURL string
}

// publisher is satisfied by the kafka writer and the postgres store.
type publisher interface {
	Publish(ctx context.Context, changes ...backend.Change) error
}

// replay sends every row as an INSERT change. For postgres the rows are
// inserted first so the NOTIFY payload matches a stored record.
func replay(ctx context.Context, target string, opts publishOptions, tables map[string][]backend.Row, logger *slog.Logger) error {
	changes := insertChanges(tables)

	switch target {
	case config.DriverKafka:
		w := kafkaadapter.NewWriter(&config.Config{KafkaBrokers: opts.brokers, KafkaChangesTopic: opts.topic}, logger)
		defer w.Close()
		return publishAll(ctx, w, changes, logger)
	case config.DriverPostgres:
		if opts.databaseURL == "" {
			return fmt.Errorf("-database-url is required for -publish postgres")
		}
		store, err := postgres.Open(ctx, opts.databaseURL, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		for _, c := range changes {
			if err := store.Insert(ctx, c.Table, c.Record); err != nil {
				return fmt.Errorf("insert into %s: %w", c.Table, err)
			}
		}
		return publishAll(ctx, store, changes, logger)
	default:
		return fmt.Errorf("unknown -publish target %q (want kafka or postgres)", target)
	}
}

func publishAll(ctx context.Context, p publisher, changes []backend.Change, logger *slog.Logger) error {
	if err := p.Publish(ctx, changes...); err != nil {
		return err
	}
	logger.Info("published fixture changes", "count", len(changes))
	return nil
}

// insertChanges orders changes by table name so replays are reproducible.
func insertChanges(tables map[string][]backend.Row) []backend.Change {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []backend.Change
	for _, name := range names {
		for _, row := range tables[name] {
			changes = append(changes, backend.Change{Type: backend.ChangeInsert, Table: name, Record: row})
		}
	}
	return changes
}
