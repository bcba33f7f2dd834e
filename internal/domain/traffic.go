package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Congestion categories published by the vector traffic source.
const (
	CongestionLow      = "low"
	CongestionModerate = "moderate"
	CongestionHeavy    = "heavy"
	CongestionSevere   = "severe"
)

var congestionColors = map[string]string{
	CongestionLow:      "#28a745",
	CongestionModerate: "#ffc107",
	CongestionHeavy:    "#fd7e14",
	CongestionSevere:   "#dc3545",
}

const congestionUnknownColor = "#cccccc"

// CongestionCategoryColor colors an upstream congestion category.
func CongestionCategoryColor(category string) string {
	if c, ok := congestionColors[strings.ToLower(strings.TrimSpace(category))]; ok {
		return c
	}
	return congestionUnknownColor
}

type colorStop struct {
	at      float64
	r, g, b float64
}

// Interpolation stops for scalar congestion: neon green, yellow, orange-red.
var congestionStops = []colorStop{
	{at: 0, r: 0x39, g: 0xFF, b: 0x14},
	{at: 0.5, r: 0xFF, g: 0xFF, b: 0x00},
	{at: 1, r: 0xFF, g: 0x45, b: 0x00},
}

// CongestionColor linearly interpolates the scalar congestion palette.
// Levels are clamped to [0,1].
func CongestionColor(level float64) string {
	if math.IsNaN(level) {
		level = 0
	}
	level = math.Max(0, math.Min(1, level))
	for i := 1; i < len(congestionStops); i++ {
		lo, hi := congestionStops[i-1], congestionStops[i]
		if level > hi.at {
			continue
		}
		t := (level - lo.at) / (hi.at - lo.at)
		return fmt.Sprintf("#%02X%02X%02X",
			int(math.Round(lo.r+(hi.r-lo.r)*t)),
			int(math.Round(lo.g+(hi.g-lo.g)*t)),
			int(math.Round(lo.b+(hi.b-lo.b)*t)),
		)
	}
	last := congestionStops[len(congestionStops)-1]
	return fmt.Sprintf("#%02X%02X%02X", int(last.r), int(last.g), int(last.b))
}

// TrafficSegment is a road stretch with a congestion reading. Segments from
// the scalar source carry CongestionLevel; segments decoded from vector
// tiles carry the upstream Category instead.
type TrafficSegment struct {
	ID              string
	CongestionLevel float64
	Category        string
	Path            orb.LineString
}

func (s TrafficSegment) Identity() string { return s.ID }

func (s TrafficSegment) Feature(_ time.Time) (Feature, bool) {
	attrs := map[string]any{}
	if s.Category != "" {
		attrs["congestion"] = s.Category
		attrs["color"] = CongestionCategoryColor(s.Category)
	} else {
		attrs["congestionLevel"] = s.CongestionLevel
		attrs["color"] = CongestionColor(s.CongestionLevel)
	}
	return Feature{
		ID:         s.ID,
		Kind:       KindTrafficSegment,
		Geometry:   s.Path,
		Attributes: attrs,
	}, true
}
