package domain

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Kind identifies the domain type behind a located feature.
type Kind string

const (
	KindIncident        Kind = "incident"
	KindCivicIssue      Kind = "civic-issue"
	KindEvent           Kind = "event"
	KindEvHub           Kind = "ev-hub"
	KindTrafficSegment  Kind = "traffic-segment"
	KindSentimentArea   Kind = "sentiment-area"
	KindCommunityReport Kind = "community-report"
)

// Feature is the unified geometry + attribute model every collection is
// rendered through.
type Feature struct {
	ID         string
	Kind       Kind
	Geometry   orb.Geometry
	Attributes map[string]any
}

// Entity is implemented by every domain record held in a collection.
// Feature builds the renderable form at the given instant; ok is false when
// the record has nothing to draw (e.g. a community report with no coordinates).
type Entity interface {
	Identity() string
	Feature(now time.Time) (f Feature, ok bool)
}

// GeoJSON converts the feature to an orb/geojson feature. The id and kind are
// copied into the properties so that renderers which drop feature ids keep them.
func (f Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	for k, v := range f.Attributes {
		gf.Properties[k] = v
	}
	gf.Properties["id"] = f.ID
	gf.Properties["kind"] = string(f.Kind)
	return gf
}

// FeatureCollection builds a GeoJSON collection from the renderable entities,
// skipping any that have no geometry.
func FeatureCollection[E Entity](entities []E, now time.Time) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range entities {
		f, ok := e.Feature(now)
		if !ok {
			continue
		}
		fc.Append(f.GeoJSON())
	}
	return fc
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
