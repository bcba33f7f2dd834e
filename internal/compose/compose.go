// Package compose renders a dataset into the GeoJSON sources a session's
// map shows, and describes how the map surface draws each source.
package compose

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/city-pulse/internal/aggregator"
	"github.com/couchcryptid/city-pulse/internal/cluster"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
)

// HasData reports which layers have something to draw in ds.
func HasData(ds aggregator.Dataset) func(mapstate.LayerID) bool {
	return func(id mapstate.LayerID) bool {
		switch id {
		case mapstate.LayerIncidents:
			return len(ds.Incidents) > 0
		case mapstate.LayerCivicIssues:
			return len(ds.CivicIssues) > 0
		case mapstate.LayerEvents:
			return len(ds.Events) > 0
		case mapstate.LayerEvHubs:
			return len(ds.EvHubs) > 0
		case mapstate.LayerTraffic:
			return len(ds.Traffic)+len(ds.TrafficTiles) > 0
		case mapstate.LayerSentiment:
			return len(ds.AreaMoods) > 0
		case mapstate.LayerCommunity:
			return len(ds.Community) > 0
		default:
			return false
		}
	}
}

// Layers returns a feature collection for every layer visible in st.
// Attributes that depend on time, such as incident freshness, are
// evaluated at now.
func Layers(ds aggregator.Dataset, st mapstate.State, now time.Time) map[mapstate.LayerID]*geojson.FeatureCollection {
	ds.Incidents = visibleIncidents(ds.Incidents, st)
	visible := st.VisibleLayers(HasData(ds))
	out := make(map[mapstate.LayerID]*geojson.FeatureCollection, len(visible))
	for id := range visible {
		out[id] = Layer(ds, id, now)
	}
	return out
}

// Layer renders a single layer regardless of visibility.
func Layer(ds aggregator.Dataset, id mapstate.LayerID, now time.Time) *geojson.FeatureCollection {
	switch id {
	case mapstate.LayerIncidents:
		return domain.FeatureCollection(ds.Incidents, now)
	case mapstate.LayerCivicIssues:
		return domain.FeatureCollection(ds.CivicIssues, now)
	case mapstate.LayerEvents:
		return domain.FeatureCollection(ds.Events, now)
	case mapstate.LayerEvHubs:
		return domain.FeatureCollection(ds.EvHubs, now)
	case mapstate.LayerTraffic:
		fc := domain.FeatureCollection(ds.Traffic, now)
		fc.Features = append(fc.Features, domain.FeatureCollection(ds.TrafficTiles, now).Features...)
		return fc
	case mapstate.LayerSentiment:
		return domain.FeatureCollection(ds.AreaMoods, now)
	case mapstate.LayerCommunity:
		return domain.FeatureCollection(ds.Community, now)
	default:
		return geojson.NewFeatureCollection()
	}
}

func visibleIncidents(incidents []domain.Incident, st mapstate.State) []domain.Incident {
	if len(st.HiddenSeverities) == 0 {
		return incidents
	}
	out := make([]domain.Incident, 0, len(incidents))
	for _, inc := range incidents {
		if st.ShowsSeverity(inc.Severity) {
			out = append(out, inc)
		}
	}
	return out
}

// IncidentIndex returns the cluster index for the incidents st shows. With
// no severity hidden that is the shared index; otherwise the shown
// incidents are grouped on the spot.
func IncidentIndex(ds aggregator.Dataset, st mapstate.State, shared *cluster.Index, now time.Time) *cluster.Index {
	if len(st.HiddenSeverities) == 0 {
		return shared
	}
	return aggregator.IncidentIndex(visibleIncidents(ds.Incidents, st), now)
}

// ClusterIncidents replaces the incidents layer, if present, with the
// index's clusters at zoom. Freshness is recomputed for unclustered points.
func ClusterIncidents(layers map[mapstate.LayerID]*geojson.FeatureCollection, idx *cluster.Index, zoom int, ds aggregator.Dataset, now time.Time) {
	if _, ok := layers[mapstate.LayerIncidents]; !ok || idx == nil {
		return
	}
	fresh := make(map[string]bool, len(ds.Incidents))
	for _, inc := range ds.Incidents {
		fresh[inc.ID] = inc.IsFresh(now)
	}
	fc := idx.Clusters(zoom)
	for _, f := range fc.Features {
		if id, ok := f.ID.(string); ok {
			f.Properties["isFresh"] = fresh[id]
		}
	}
	layers[mapstate.LayerIncidents] = fc
}
