package compose

import (
	"github.com/couchcryptid/city-pulse/internal/cluster"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
)

// Definition tells the map surface how to draw one source.
type Definition struct {
	ID             mapstate.LayerID `json:"id"`
	Name           string           `json:"name"`
	Source         string           `json:"source"`          // "geojson" or "vector"
	Type           string           `json:"type"`            // circle, symbol, line or fill
	ColorProperty  string           `json:"colorProperty"`   // feature property holding the paint color
	Cluster        bool             `json:"cluster"`
	ClusterRadius  float64          `json:"clusterRadius,omitempty"`
	ClusterMaxZoom int              `json:"clusterMaxZoom,omitempty"`
	VectorURL      string           `json:"vectorUrl,omitempty"`
	SourceLayer    string           `json:"sourceLayer,omitempty"`
}

// TrafficTilesetURL is the Mapbox live traffic tileset.
const TrafficTilesetURL = "mapbox://mapbox.mapbox-traffic-v1"

// Definitions lists the layer definitions in registry order, followed by
// the community overlay and the vector traffic source.
func Definitions() []Definition {
	opts := cluster.DefaultOptions()
	names := make(map[mapstate.LayerID]string)
	for _, l := range mapstate.Layers() {
		names[l.ID] = l.Name
	}

	defs := []Definition{
		{ID: mapstate.LayerTraffic, Source: "geojson", Type: "line", ColorProperty: "color"},
		{
			ID: mapstate.LayerIncidents, Source: "geojson", Type: "circle", ColorProperty: "color",
			Cluster: true, ClusterRadius: opts.Radius, ClusterMaxZoom: opts.MaxZoom,
		},
		{ID: mapstate.LayerCivicIssues, Source: "geojson", Type: "symbol", ColorProperty: "color"},
		{ID: mapstate.LayerEvents, Source: "geojson", Type: "symbol"},
		{ID: mapstate.LayerEvHubs, Source: "geojson", Type: "symbol"},
		{ID: mapstate.LayerSentiment, Source: "geojson", Type: "fill", ColorProperty: "color"},
	}
	for i := range defs {
		defs[i].Name = names[defs[i].ID]
	}

	return append(defs,
		Definition{ID: mapstate.LayerCommunity, Name: "Community", Source: "geojson", Type: "fill"},
		Definition{
			ID: "mapbox-traffic", Name: "Live Traffic", Source: "vector", Type: "line",
			ColorProperty: "congestion", VectorURL: TrafficTilesetURL, SourceLayer: "traffic",
		},
	)
}
