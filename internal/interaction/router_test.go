package interaction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
)

type fakeIndex map[int]int

func (f fakeIndex) ExpansionZoom(id int) (int, error) {
	z, ok := f[id]
	if !ok {
		return 0, errors.New("no such cluster")
	}
	return z, nil
}

func newTestRouter(idx Expander) *Router {
	return NewRouter(func(layer mapstate.LayerID) Expander {
		if layer != mapstate.LayerIncidents || idx == nil {
			return nil
		}
		return idx
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var here = orb.Point{80.2707, 13.0827}

func TestResolve_ClusterHit(t *testing.T) {
	r := newTestRouter(fakeIndex{42: 11})

	for _, id := range []any{42, float64(42), "42"} {
		got := r.Resolve(context.Background(), []RenderedFeature{{
			Layer:      mapstate.LayerIncidents,
			Geometry:   here,
			Properties: map[string]any{"cluster": true, "cluster_id": id, "point_count": 3},
		}})
		assert.Equal(t, ExpandCluster{ClusterID: 42, Center: here, Zoom: 11}, got, "cluster_id %T", id)
	}
}

func TestResolve_ClusterNeverShowsDetail(t *testing.T) {
	tests := []struct {
		name string
		idx  Expander
		hit  RenderedFeature
	}{
		{
			name: "no index for layer",
			idx:  nil,
			hit:  RenderedFeature{Layer: mapstate.LayerIncidents, Geometry: here, Properties: map[string]any{"cluster": true, "cluster_id": 42}},
		},
		{
			name: "lookup fails",
			idx:  fakeIndex{},
			hit:  RenderedFeature{Layer: mapstate.LayerIncidents, Geometry: here, Properties: map[string]any{"cluster": true, "cluster_id": 42}},
		},
		{
			name: "geometry not a point",
			idx:  fakeIndex{42: 11},
			hit: RenderedFeature{Layer: mapstate.LayerIncidents, Geometry: orb.LineString{{0, 0}, {1, 1}},
				Properties: map[string]any{"cluster": true, "cluster_id": 42}},
		},
		{
			name: "unparseable id",
			idx:  fakeIndex{42: 11},
			hit:  RenderedFeature{Layer: mapstate.LayerIncidents, Geometry: here, Properties: map[string]any{"cluster": true, "cluster_id": "abc"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestRouter(tt.idx).Resolve(context.Background(), []RenderedFeature{tt.hit})
			assert.Equal(t, Noop{}, got)
		})
	}
}

func TestResolve_ZeroHitsClearsSelection(t *testing.T) {
	r := newTestRouter(nil)
	assert.Equal(t, ClearSelection{}, r.Resolve(context.Background(), nil))
}

func TestResolve_SentimentIsNoop(t *testing.T) {
	r := newTestRouter(nil)
	poly := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}

	assert.Equal(t, Noop{}, r.Resolve(context.Background(), []RenderedFeature{
		{Layer: mapstate.LayerSentiment, Geometry: poly, Properties: map[string]any{"id": "m1"}},
	}))
	assert.Equal(t, Noop{}, r.Resolve(context.Background(), []RenderedFeature{
		{Layer: mapstate.LayerEvents, Geometry: poly, Properties: map[string]any{"score": 0.4}},
	}))
}

func TestResolve_MissingLayerOrGeometryIsNoop(t *testing.T) {
	r := newTestRouter(nil)
	assert.Equal(t, Noop{}, r.Resolve(context.Background(), []RenderedFeature{{Geometry: here}}))
	assert.Equal(t, Noop{}, r.Resolve(context.Background(), []RenderedFeature{{Layer: mapstate.LayerEvents}}))
}

func TestResolve_HitWithoutIDIsNoop(t *testing.T) {
	r := newTestRouter(nil)
	road := orb.LineString{{80.2, 13.0}, {80.21, 13.01}}

	t.Run("basemap traffic", func(t *testing.T) {
		got := r.Resolve(context.Background(), []RenderedFeature{
			{Layer: "mapbox-traffic", Geometry: road, Properties: map[string]any{"congestion": "heavy"}},
		})
		assert.Equal(t, Noop{}, got)
	})

	t.Run("known layer with empty id", func(t *testing.T) {
		got := r.Resolve(context.Background(), []RenderedFeature{
			{Layer: mapstate.LayerTraffic, Geometry: road, Properties: map[string]any{"id": "", "congestion": 0.7}},
		})
		assert.Equal(t, Noop{}, got)
	})
}

func TestResolve_CancelledContextIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Noop{}, newTestRouter(nil).Resolve(ctx, nil))
}

func TestResolve_ShowDetailReparsesFlattenedProperties(t *testing.T) {
	r := newTestRouter(nil)

	got := r.Resolve(context.Background(), []RenderedFeature{{
		Layer:    mapstate.LayerIncidents,
		Geometry: here,
		Properties: map[string]any{
			"id":        "inc-1",
			"kind":      "incident",
			"severity":  "Major",
			"mediaUrls": `["https://example.com/a.jpg"]`,
			"meta":      `{"ward": 9}`,
			"note":      `{broken`,
		},
	}})

	want := ShowDetail{
		Layer: mapstate.LayerIncidents,
		Kind:  domain.KindIncident,
		ID:    "inc-1",
		Attributes: map[string]any{
			"id":        "inc-1",
			"kind":      "incident",
			"severity":  "Major",
			"mediaUrls": []any{"https://example.com/a.jpg"},
			"meta":      map[string]any{"ward": float64(9)},
			"note":      `{broken`,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DataPropertyReplacesFlatProperties(t *testing.T) {
	r := newTestRouter(nil)

	got := r.Resolve(context.Background(), []RenderedFeature{{
		Layer:      mapstate.LayerEvents,
		Geometry:   here,
		Properties: map[string]any{"id": "ev-7", "data": `{"name":"Marina Run","venue":"Marina Beach"}`},
	}})

	detail, ok := got.(ShowDetail)
	require.True(t, ok)
	assert.Equal(t, "ev-7", detail.ID)
	assert.Equal(t, domain.KindEvent, detail.Kind)
	assert.Equal(t, "Marina Run", detail.Attributes["name"])
	assert.NotContains(t, detail.Attributes, "data")
}

func TestResolve_BadDataKeepsFlatProperties(t *testing.T) {
	r := newTestRouter(nil)

	got := r.Resolve(context.Background(), []RenderedFeature{{
		Layer:      mapstate.LayerEvHubs,
		Geometry:   here,
		Properties: map[string]any{"id": "hub-3", "data": "not json"},
	}})

	detail, ok := got.(ShowDetail)
	require.True(t, ok)
	assert.Equal(t, "hub-3", detail.ID)
	assert.Equal(t, domain.KindEvHub, detail.Kind)
	assert.Equal(t, "not json", detail.Attributes["data"])
}

func TestActionNames(t *testing.T) {
	assert.Equal(t, "expand-cluster", ExpandCluster{}.ActionName())
	assert.Equal(t, "show-detail", ShowDetail{}.ActionName())
	assert.Equal(t, "clear-selection", ClearSelection{}.ActionName())
	assert.Equal(t, "noop", Noop{}.ActionName())
}
