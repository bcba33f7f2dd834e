// Command genmock generates deterministic backend fixtures for the duckdb
// driver and the integration tests: one JSON array per backend table,
// written as <table>.json. With -publish it also replays every row as an
// INSERT change through the kafka changes topic or postgres NOTIFY, so a
// running service can be exercised end to end.
//
// Usage:
//
//	go run ./cmd/genmock -out data/fixtures
//	go run ./cmd/genmock -out data/fixtures -publish kafka -brokers localhost:9092
//	go run ./cmd/genmock -out data/fixtures -publish postgres -database-url postgres://...
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

// fixtureTime is the instant every generated timestamp is relative to.
var fixtureTime = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output directory for <table>.json fixtures")
	seed := flag.Uint64("seed", 42, "random seed")
	incidents := flag.Int("incidents", 40, "number of incidents to generate")
	publish := flag.String("publish", "", "replay rows as changes: kafka or postgres")
	brokers := flag.String("brokers", "localhost:9092", "kafka brokers, comma separated")
	topic := flag.String("topic", "citypulse-changes", "kafka changes topic")
	databaseURL := flag.String("database-url", "", "postgres connection string")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	// A fixed clock keeps the fixtures reproducible.
	domain.SetClock(clockwork.NewFakeClockAt(fixtureTime))
	defer domain.SetClock(nil)

	tables := generate(*seed, *incidents)
	if err := writeFixtures(*out, tables); err != nil {
		return err
	}
	printStats(tables)

	if *publish == "" {
		return nil
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	return replay(ctx, *publish, publishOptions{
		brokers:     strings.Split(*brokers, ","),
		topic:       *topic,
		databaseURL: *databaseURL,
	}, tables, logger)
}

func writeFixtures(dir string, tables map[string][]backend.Row) error {
	for table, rows := range tables {
		path := filepath.Join(dir, table+".json")
		if err := writeJSON(path, rows); err != nil {
			return fmt.Errorf("writing %s fixture: %w", table, err)
		}
		log.Printf("wrote %s (%d rows)", path, len(rows))
	}
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(tables map[string][]backend.Row) {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\n=== Fixture stats ===")
	for _, name := range names {
		fmt.Printf("%-20s %d rows\n", name, len(tables[name]))
	}

	severities := map[string]int{}
	for _, r := range tables[backend.TableIncidents] {
		severities[r["severity"].(string)]++
	}
	fmt.Printf("Incidents by severity: critical=%d, major=%d, minor=%d, info=%d\n",
		severities["Critical"], severities["Major"], severities["Minor"], severities["Info"])

	var fresh int
	for _, r := range tables[backend.TableIncidents] {
		ts, err := time.Parse(time.RFC3339, r["timestamp"].(string))
		if err == nil && fixtureTime.Sub(ts) < domain.FreshnessWindow {
			fresh++
		}
	}
	fmt.Printf("Fresh incidents at %s: %d\n", fixtureTime.Format(time.RFC3339), fresh)
}
