package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func completeFixtures() map[string][]map[string]any {
	return map[string][]map[string]any{
		backend.TableAreaMoods:   {{"id": "m1"}},
		backend.TableEvents:      {{"id": "e1"}, {"id": "e2"}},
		backend.TableCommunity:   {{"id": "c1"}},
		backend.TableIncidents:   {{"id": "i1"}, {"id": "i2"}},
		backend.TableCivicIssues: {{"id": "v1"}},
		backend.TableTraffic:     {{"road_id": "omr"}},
	}
}

func TestValidateFiles(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		p := validateFiles(completeFixtures())
		assert.True(t, p.passed(), p.errors)
	})

	t.Run("missing file and empty table", func(t *testing.T) {
		raw := completeFixtures()
		delete(raw, backend.TableEvents)
		raw[backend.TableCommunity] = []map[string]any{}

		p := validateFiles(raw)
		require.Len(t, p.errors, 2)
		assert.Contains(t, p.errors[0], "events: file missing")
		assert.Contains(t, p.errors[1], "city-one-community: no rows")
	})

	t.Run("duplicate and missing keys", func(t *testing.T) {
		raw := completeFixtures()
		raw[backend.TableIncidents] = []map[string]any{{"id": "i1"}, {"id": "i1"}, {"type": "Fire"}}

		p := validateFiles(raw)
		require.Len(t, p.errors, 2)
		assert.Contains(t, p.errors[0], `duplicate key "i1"`)
		assert.Contains(t, p.errors[1], "row 2: missing key")
	})
}

type fakeSelector struct {
	tables []string
	rows   map[string]int
	err    error
}

func (f fakeSelector) Tables() []string { return f.tables }

func (f fakeSelector) Select(_ context.Context, q backend.Query) ([]backend.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]backend.Row, f.rows[q.Table]), nil
}

func TestValidateDuckDB(t *testing.T) {
	raw := completeFixtures()
	all := fakeSelector{rows: map[string]int{}}
	for table, rows := range raw {
		all.tables = append(all.tables, table)
		all.rows[table] = len(rows)
	}

	t.Run("counts match", func(t *testing.T) {
		p := validateDuckDB(context.Background(), all, raw)
		assert.True(t, p.passed(), p.errors)
	})

	t.Run("count mismatch", func(t *testing.T) {
		short := fakeSelector{tables: all.tables, rows: map[string]int{}}
		for k, v := range all.rows {
			short.rows[k] = v
		}
		short.rows[backend.TableIncidents] = 1

		p := validateDuckDB(context.Background(), short, raw)
		require.Len(t, p.errors, 1)
		assert.Equal(t, "incidents: json has 2 rows, duckdb has 1", p.errors[0])
	})

	t.Run("table not loaded", func(t *testing.T) {
		p := validateDuckDB(context.Background(), fakeSelector{rows: all.rows}, raw)
		assert.Len(t, p.errors, len(tableCollections))
	})

	t.Run("select error", func(t *testing.T) {
		broken := fakeSelector{tables: all.tables, err: errors.New("boom")}
		p := validateDuckDB(context.Background(), broken, raw)
		require.NotEmpty(t, p.errors)
		assert.Contains(t, p.errors[0], "select: boom")
	})
}

func TestValidateDecoding(t *testing.T) {
	raw := completeFixtures()
	ready := func() map[aggregator.Name]aggregator.Status {
		out := make(map[aggregator.Name]aggregator.Status)
		for _, tc := range tableCollections {
			out[tc.collection] = aggregator.Status{State: aggregator.StateReady, Count: len(raw[tc.table])}
		}
		return out
	}

	t.Run("all decoded", func(t *testing.T) {
		p := validateDecoding(ready(), observability.NewMetricsForTesting(), raw)
		assert.True(t, p.passed(), p.errors)
	})

	t.Run("dropped rows", func(t *testing.T) {
		statuses := ready()
		statuses[aggregator.Incidents] = aggregator.Status{State: aggregator.StateReady, Count: 1}
		metrics := observability.NewMetricsForTesting()
		metrics.RecordsDropped.WithLabelValues(string(aggregator.Incidents)).Inc()

		p := validateDecoding(statuses, metrics, raw)
		require.Len(t, p.errors, 2)
		assert.Equal(t, "incidents: 1 rows dropped as malformed", p.errors[0])
		assert.Equal(t, "incidents: decoded 1 of 2 rows", p.errors[1])
	})

	t.Run("failed collection", func(t *testing.T) {
		statuses := ready()
		statuses[aggregator.Traffic] = aggregator.Status{State: aggregator.StateError, Error: "relation missing"}

		p := validateDecoding(statuses, observability.NewMetricsForTesting(), raw)
		require.Len(t, p.errors, 1)
		assert.Contains(t, p.errors[0], "relation missing")
	})
}

func TestValidateRendering(t *testing.T) {
	center := domain.CityCenter()
	lat, lng := center.Lat(), center.Lon()

	t.Run("well formed", func(t *testing.T) {
		ds := aggregator.Dataset{
			Incidents: []domain.Incident{{ID: "i1", Type: "Fire", Location: center, Timestamp: testNow}},
			Community: []domain.CommunityReport{{ID: "c1", Title: "Open manhole", Lat: &lat, Lng: &lng}},
			Traffic: []domain.TrafficSegment{{
				ID:   "omr",
				Path: orb.LineString{center, {lng + 0.01, lat + 0.01}},
			}},
		}
		p := validateRendering(ds, testNow)
		assert.True(t, p.passed(), p.errors)
	})

	t.Run("far from the city", func(t *testing.T) {
		ds := aggregator.Dataset{
			Incidents: []domain.Incident{{ID: "i1", Type: "Fire", Location: orb.Point{0, 0}, Timestamp: testNow}},
		}
		p := validateRendering(ds, testNow)
		require.Len(t, p.errors, 1)
		assert.Contains(t, p.errors[0], "from the city center")
	})
}
