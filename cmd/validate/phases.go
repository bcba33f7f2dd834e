package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/compose"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

// maxCityRadiusMeters bounds how far a feature may sit from the city center.
const maxCityRadiusMeters = 60_000

// ── Phase 1: Fixture files ──
// Every table file exists, holds objects, and has unique non-empty keys.

func validateFiles(raw map[string][]map[string]any) *phase {
	p := &phase{name: "Phase 1: Fixture Files (JSON)"}

	for _, tc := range tableCollections {
		rows, ok := raw[tc.table]
		if !ok || rows == nil {
			p.errorf("%s: file missing", tc.table)
			continue
		}
		if len(rows) == 0 {
			p.errorf("%s: no rows", tc.table)
			continue
		}

		seen := make(map[string]int, len(rows))
		for i, r := range rows {
			key := rowKey(tc.table, r)
			if key == "" {
				p.errorf("%s row %d: missing key", tc.table, i)
				continue
			}
			if prev, dup := seen[key]; dup {
				p.errorf("%s row %d: duplicate key %q (first at row %d)", tc.table, i, key, prev)
				continue
			}
			seen[key] = i
		}
	}
	return p
}

func rowKey(table string, r map[string]any) string {
	if table == backend.TableTraffic {
		if s, ok := r["road_id"].(string); ok && s != "" {
			return s
		}
	}
	return backend.RowID(r)
}

// ── Phase 2: DuckDB ──
// The DuckDB store sees the same row counts as the raw files.

type rowSelector interface {
	Tables() []string
	Select(ctx context.Context, q backend.Query) ([]backend.Row, error)
}

func validateDuckDB(ctx context.Context, store rowSelector, raw map[string][]map[string]any) *phase {
	p := &phase{name: "Phase 2: DuckDB Load"}

	loaded := make(map[string]bool)
	for _, t := range store.Tables() {
		loaded[t] = true
	}

	for _, tc := range tableCollections {
		if raw[tc.table] == nil {
			continue
		}
		if !loaded[tc.table] {
			p.errorf("%s: not loaded as a table", tc.table)
			continue
		}
		rows, err := store.Select(ctx, backend.Query{Table: tc.table})
		if err != nil {
			p.errorf("%s: select: %v", tc.table, err)
			continue
		}
		if len(rows) != len(raw[tc.table]) {
			p.errorf("%s: json has %d rows, duckdb has %d", tc.table, len(raw[tc.table]), len(rows))
		}
	}
	return p
}

// ── Phase 3: Decoding ──
// Every row decodes into its collection; nothing is dropped.

func validateDecoding(statuses map[aggregator.Name]aggregator.Status, metrics *observability.Metrics, raw map[string][]map[string]any) *phase {
	p := &phase{name: "Phase 3: Decode Integrity (rows vs collections)"}

	for _, tc := range tableCollections {
		st := statuses[tc.collection]
		if st.State != aggregator.StateReady {
			p.errorf("%s: state %s: %s", tc.collection, st.State, st.Error)
			continue
		}
		if dropped := testutil.ToFloat64(metrics.RecordsDropped.WithLabelValues(string(tc.collection))); dropped > 0 {
			p.errorf("%s: %g rows dropped as malformed", tc.collection, dropped)
		}
		if want := len(raw[tc.table]); st.Count != want {
			p.errorf("%s: decoded %d of %d rows", tc.collection, st.Count, want)
		}
	}
	return p
}

// ── Phase 4: Rendering ──
// Every rendered feature is identified, well-formed, and inside the city.

func validateRendering(ds aggregator.Dataset, now time.Time) *phase {
	p := &phase{name: "Phase 4: Rendered Layers (GeoJSON)"}

	layers := make([]mapstate.LayerID, 0, len(mapstate.Layers())+1)
	for _, l := range mapstate.Layers() {
		layers = append(layers, l.ID)
	}
	layers = append(layers, mapstate.LayerCommunity)

	center := domain.CityCenter()
	for _, id := range layers {
		fc := compose.Layer(ds, id, now)
		for i, f := range fc.Features {
			checkFeature(p, id, i, f, center)
		}
	}

	var approximate int
	for _, e := range ds.Events {
		if e.Approximate {
			approximate++
		}
	}
	if approximate > 0 {
		fmt.Printf("  note: %d event(s) drawn at a synthetic point\n", approximate)
	}
	return p
}

func checkFeature(p *phase, layer mapstate.LayerID, i int, f *geojson.Feature, center orb.Point) {
	label := fmt.Sprintf("%s feature %d", layer, i)
	if id, _ := f.Properties["id"].(string); id == "" {
		p.errorf("%s: missing id", label)
	} else {
		label = fmt.Sprintf("%s %s", layer, id)
	}
	if kind, _ := f.Properties["kind"].(string); kind == "" {
		p.errorf("%s: missing kind", label)
	}

	switch g := f.Geometry.(type) {
	case orb.Point:
		checkPoint(p, label, g, center)
	case orb.LineString:
		if len(g) < 2 {
			p.errorf("%s: line string has %d positions", label, len(g))
		}
		for _, pt := range g {
			checkPoint(p, label, pt, center)
		}
	case orb.Polygon:
		for _, r := range g {
			if len(r) < 4 || !r.Closed() {
				p.errorf("%s: ring not closed or too short (%d positions)", label, len(r))
			}
		}
		if layer == mapstate.LayerCommunity && len(g) > 0 && len(g[0]) != domain.CommunityCircleSteps+1 {
			p.errorf("%s: community circle has %d positions", label, len(g[0]))
		}
		if len(g) > 0 {
			checkPoint(p, label, g[0][0], center)
		}
	default:
		p.errorf("%s: unexpected geometry %T", label, f.Geometry)
	}
}

func checkPoint(p *phase, label string, pt orb.Point, center orb.Point) {
	if math.IsNaN(pt.Lon()) || math.IsNaN(pt.Lat()) {
		p.errorf("%s: NaN coordinate", label)
		return
	}
	if d := geo.Distance(center, pt); d > maxCityRadiusMeters {
		p.errorf("%s: %.0f km from the city center", label, d/1000)
	}
}
