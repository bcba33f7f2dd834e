package domain

import (
	"hash/fnv"
	"time"

	"github.com/paulmach/orb"
)

// syntheticSpread is the max offset of a synthesized point from the city center.
const syntheticSpread = 0.01

// SyntheticPoint places a deterministic point within syntheticSpread degrees
// of the city center, seeded by the record id. Callers must flag features
// using it as approximate.
func SyntheticPoint(seed string) orb.Point {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	sum := h.Sum64()

	dx := (float64(sum&0xffff)/0xffff*2 - 1) * syntheticSpread
	dy := (float64((sum>>16)&0xffff)/0xffff*2 - 1) * syntheticSpread

	center := CityCenter()
	return orb.Point{center.Lon() + dx, center.Lat() + dy}
}

// Event is a scheduled gathering.
type Event struct {
	ID               string
	Name             string
	Description      string
	Venue            string
	StartTime        time.Time
	PredictedDensity *float64 // 0..1, nil when unknown
	Location         orb.Point
	Approximate      bool // Location was synthesized
}

func (e Event) Identity() string { return e.ID }

func (e Event) Feature(_ time.Time) (Feature, bool) {
	attrs := map[string]any{
		"name":          e.Name,
		"description":   e.Description,
		"venue":         e.Venue,
		"startTime":     formatTime(e.StartTime),
		"isApproximate": e.Approximate,
	}
	if e.PredictedDensity != nil {
		attrs["predictedDensity"] = *e.PredictedDensity
	}
	return Feature{
		ID:         e.ID,
		Kind:       KindEvent,
		Geometry:   e.Location,
		Attributes: attrs,
	}, true
}
