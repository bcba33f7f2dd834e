package domain

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCirclePolygon(t *testing.T) {
	center := orb.Point{80.2785, 13.06}
	poly := CirclePolygon(center, CommunityRadiusMeters, CommunityCircleSteps)

	require.Len(t, poly, 1)
	ring := poly[0]
	require.Len(t, ring, CommunityCircleSteps+1)
	assert.True(t, ring.Closed())

	for _, p := range ring {
		assert.InDelta(t, CommunityRadiusMeters, geo.Distance(center, p), 1.5)
	}
}

func TestCirclePolygon_MinimumSteps(t *testing.T) {
	poly := CirclePolygon(orb.Point{0, 0}, 10, 1)
	assert.Len(t, poly[0], 4)
}

func TestCommunityReport_Feature(t *testing.T) {
	t.Run("located", func(t *testing.T) {
		r := CommunityReport{ID: "c-1", Title: "Streetlight out", Area: "Adyar", Lat: ptr(13.0012), Lng: ptr(80.2565)}

		f, ok := r.Feature(Now())
		require.True(t, ok)
		assert.Equal(t, KindCommunityReport, f.Kind)
		poly, isPoly := f.Geometry.(orb.Polygon)
		require.True(t, isPoly)
		assert.Len(t, poly[0], CommunityCircleSteps+1)
		assert.Equal(t, 13.0012, f.Attributes["lat"])
	})

	t.Run("unlocated is not drawn", func(t *testing.T) {
		r := CommunityReport{ID: "c-2", Area: "Adyar"}
		_, ok := r.Feature(Now())
		assert.False(t, ok)
	})

	t.Run("nan coordinate is not drawn", func(t *testing.T) {
		r := CommunityReport{ID: "c-3", Lat: ptr(math.NaN()), Lng: ptr(80.2)}
		assert.False(t, r.HasLocation())
	})
}
