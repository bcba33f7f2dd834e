package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticPoint(t *testing.T) {
	a := SyntheticPoint("evt-17")
	assert.Equal(t, a, SyntheticPoint("evt-17"))
	assert.NotEqual(t, a, SyntheticPoint("evt-18"))

	center := CityCenter()
	assert.InDelta(t, center.Lon(), a.Lon(), syntheticSpread)
	assert.InDelta(t, center.Lat(), a.Lat(), syntheticSpread)
}

func TestEvent_Feature(t *testing.T) {
	density := 0.8
	e := Event{ID: "evt-1", Name: "Marina Run", Location: SyntheticPoint("evt-1"), Approximate: true, PredictedDensity: &density}

	f, ok := e.Feature(Now())
	require.True(t, ok)
	assert.Equal(t, KindEvent, f.Kind)
	assert.Equal(t, true, f.Attributes["isApproximate"])
	assert.Equal(t, 0.8, f.Attributes["predictedDensity"])
}

func TestFeature_GeoJSON(t *testing.T) {
	e := Event{ID: "evt-2", Name: "Concert", Location: SyntheticPoint("evt-2")}
	f, _ := e.Feature(Now())

	gf := f.GeoJSON()
	assert.Equal(t, "evt-2", gf.ID)
	assert.Equal(t, "evt-2", gf.Properties["id"])
	assert.Equal(t, "event", gf.Properties["kind"])
	assert.Equal(t, "Concert", gf.Properties["name"])
}

func TestFeatureCollection_SkipsUndrawable(t *testing.T) {
	reports := []CommunityReport{
		{ID: "a", Lat: ptr(13.0), Lng: ptr(80.2)},
		{ID: "b"},
	}
	fc := FeatureCollection(reports, Now())
	assert.Len(t, fc.Features, 1)
	assert.Equal(t, "a", fc.Features[0].ID)
}
