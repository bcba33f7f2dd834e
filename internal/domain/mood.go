package domain

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Sentiment labels used by the area-mood table.
const (
	MoodHappy      = "happy"
	MoodSad        = "sad"
	MoodAngry      = "angry"
	MoodNeutral    = "neutral"
	MoodSuperHappy = "super happy"
	MoodSuperSad   = "super sad"
	MoodSuperAngry = "super angry"
)

// MoodFallbackColor is used for any label outside the palette.
const MoodFallbackColor = "#95a5a6"

var moodColors = map[string]string{
	MoodHappy:      "#2ecc71",
	MoodSad:        "#3498db",
	MoodAngry:      "#e74c3c",
	MoodNeutral:    MoodFallbackColor,
	MoodSuperHappy: "#7bed9f",
	MoodSuperSad:   "#1e3a8a",
	MoodSuperAngry: "#8b0000",
}

// NormalizeMood lower-cases a label and collapses its whitespace.
// An empty label is neutral.
func NormalizeMood(label string) string {
	s := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	if s == "" {
		return MoodNeutral
	}
	return s
}

// MoodColor returns the palette color for a sentiment label, matched
// case-insensitively. Unknown labels get MoodFallbackColor.
func MoodColor(label string) string {
	if c, ok := moodColors[NormalizeMood(label)]; ok {
		return c
	}
	return MoodFallbackColor
}

const (
	placeholderSpread = 0.05 // max offset from the city center, degrees
	placeholderSize   = 0.01 // square side, degrees
)

// PlaceholderPolygon derives a small square near the city center from the
// area name. It is a display fallback for rows without a boundary, not a
// geocoded shape: the same name always lands on the same square.
func PlaceholderPolygon(area string) orb.Polygon {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(strings.Fields(strings.ToLower(area)), " ")))
	sum := h.Sum64()

	dx := (float64(sum&0xffff)/0xffff*2 - 1) * placeholderSpread
	dy := (float64((sum>>16)&0xffff)/0xffff*2 - 1) * placeholderSpread

	center := CityCenter()
	minLng, minLat := center.Lon()+dx, center.Lat()+dy
	maxLng, maxLat := minLng+placeholderSize, minLat+placeholderSize

	return orb.Polygon{orb.Ring{
		{minLng, minLat},
		{maxLng, minLat},
		{maxLng, maxLat},
		{minLng, maxLat},
		{minLng, minLat},
	}}
}

// DefaultMoodDescription is shown for areas stored without a description.
func DefaultMoodDescription(sentiment string) string {
	return "Area mood: " + NormalizeMood(sentiment)
}

// AreaMood is a named area with a sentiment label and optional boundary.
type AreaMood struct {
	ID          string
	Area        string
	Sentiment   string
	Description string
	Polygon     orb.Polygon // nil when upstream had no boundary
	CreatedAt   time.Time
}

func (m AreaMood) Identity() string { return m.ID }

// Feature renders the area as a fill polygon. Areas without a boundary get
// the placeholder square and are flagged isApproximate.
func (m AreaMood) Feature(_ time.Time) (Feature, bool) {
	poly := m.Polygon
	approximate := false
	if len(poly) == 0 {
		poly = PlaceholderPolygon(m.Area)
		approximate = true
	}
	sentiment := NormalizeMood(m.Sentiment)
	return Feature{
		ID:       m.ID,
		Kind:     KindSentimentArea,
		Geometry: poly,
		Attributes: map[string]any{
			"area":          m.Area,
			"sentiment":     sentiment,
			"description":   m.Description,
			"color":         MoodColor(sentiment),
			"createdAt":     formatTime(m.CreatedAt),
			"isApproximate": approximate,
		},
	}, true
}
