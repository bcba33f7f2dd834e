// Command validate performs end-to-end integrity checks on a fixtures
// directory: the raw JSON files, the DuckDB view of them, the decoded
// collections, and the GeoJSON every layer renders to. It is the gate for
// fixtures produced by genmock or exported from the live backend.
//
// Usage:
//
//	go run ./cmd/validate -fixtures-dir data/fixtures
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/city-pulse/internal/adapter/duckdb"
	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

// tableCollections maps every backend table to the collection it feeds.
var tableCollections = []struct {
	table      string
	collection aggregator.Name
}{
	{backend.TableAreaMoods, aggregator.AreaMoods},
	{backend.TableEvents, aggregator.Events},
	{backend.TableCommunity, aggregator.Community},
	{backend.TableIncidents, aggregator.Incidents},
	{backend.TableCivicIssues, aggregator.CivicIssues},
	{backend.TableTraffic, aggregator.Traffic},
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("fixtures-dir", "", "directory containing <table>.json fixtures")
	at := flag.String("now", "2026-03-01T10:00:00Z", "instant to evaluate freshness at (RFC 3339)")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}
	now, err := time.Parse(time.RFC3339, *at)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -now: %v\n", err)
		os.Exit(1)
	}

	if code := run(*dir, now); code != 0 {
		os.Exit(code)
	}
}

func run(dir string, now time.Time) int {
	fmt.Println("=== City Pulse Fixture Validation ===")
	fmt.Println()

	raw, err := loadFixtures(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load fixtures: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := duckdb.Open(ctx, dir, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open duckdb: %v\n", err)
		return 1
	}
	defer store.Close()

	metrics := observability.NewMetricsForTesting()
	agg := aggregator.New(aggregator.Deps{
		Store:   store,
		Clock:   clockwork.NewFakeClockAt(now),
		Logger:  logger,
		Metrics: metrics,
	})
	if err := agg.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load collections: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateFiles(raw),
		validateDuckDB(ctx, store, raw),
		validateDecoding(agg.Statuses(), metrics, raw),
		validateRendering(agg.Snapshot(), now),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	for _, tc := range tableCollections {
		fmt.Printf("  %-20s %d rows\n", tc.table, len(raw[tc.table]))
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadFixtures reads every expected table. Missing files load as nil so
// phase 1 can report them alongside other problems.
func loadFixtures(dir string) (map[string][]map[string]any, error) {
	out := make(map[string][]map[string]any, len(tableCollections))
	for _, tc := range tableCollections {
		data, err := os.ReadFile(filepath.Join(dir, tc.table+".json"))
		if os.IsNotExist(err) {
			out[tc.table] = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		var rows []map[string]any
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%s: %w", tc.table, err)
		}
		out[tc.table] = rows
	}
	return out, nil
}
