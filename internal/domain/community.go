package domain

import (
	"math"
	"time"

	"github.com/paulmach/orb"
)

const (
	// CommunityRadiusMeters is the radius of the emphasis circle drawn
	// around a located community report.
	CommunityRadiusMeters = 100
	// CommunityCircleSteps is the number of sides of that circle.
	CommunityCircleSteps = 24

	metersPerDegreeLat = 111320.0
)

// CirclePolygon approximates a circle of radius meters around center with a
// closed ring of steps positions (plus the closing one). It uses the
// equirectangular approximation, which is fine at neighborhood scale.
func CirclePolygon(center orb.Point, radius float64, steps int) orb.Polygon {
	if steps < 3 {
		steps = 3
	}
	cosLat := math.Cos(center.Lat() * math.Pi / 180)
	r := make(orb.Ring, 0, steps+1)
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		dLat := radius * math.Cos(a) / metersPerDegreeLat
		dLng := radius * math.Sin(a) / (metersPerDegreeLat * cosLat)
		r = append(r, orb.Point{center.Lon() + dLng, center.Lat() + dLat})
	}
	r = append(r, r[0])
	return orb.Polygon{r}
}

// CommunityReport is a user-submitted local issue relayed to the automation
// webhook. Response is filled later by that external process.
type CommunityReport struct {
	ID          string
	Title       string
	Description string
	Area        string
	Response    string
	Lat         *float64
	Lng         *float64
	CreatedAt   time.Time
}

func (r CommunityReport) Identity() string { return r.ID }

// HasLocation reports whether both coordinates are present and finite.
func (r CommunityReport) HasLocation() bool {
	return r.Lat != nil && r.Lng != nil &&
		!math.IsNaN(*r.Lat) && !math.IsNaN(*r.Lng) &&
		!math.IsInf(*r.Lat, 0) && !math.IsInf(*r.Lng, 0)
}

// Feature draws the report as a circle around its coordinates. Reports
// without coordinates stay in the collection but are not drawn.
func (r CommunityReport) Feature(_ time.Time) (Feature, bool) {
	if !r.HasLocation() {
		return Feature{}, false
	}
	return Feature{
		ID:       r.ID,
		Kind:     KindCommunityReport,
		Geometry: CirclePolygon(orb.Point{*r.Lng, *r.Lat}, CommunityRadiusMeters, CommunityCircleSteps),
		Attributes: map[string]any{
			"title":       r.Title,
			"description": r.Description,
			"area":        r.Area,
			"response":    r.Response,
			"lat":         *r.Lat,
			"lng":         *r.Lng,
			"createdAt":   formatTime(r.CreatedAt),
		},
	}, true
}
