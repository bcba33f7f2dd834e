package aggregator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

var errMissingID = errors.New("missing id")

// Column selections per table. Tables not listed select every column.
var (
	areaMoodColumns  = []string{"id", "area", "sentiment", "description", "polygon", "created_at"}
	eventColumns     = []string{"id", "created_at", "event_name", "event_description", "location"}
	communityColumns = []string{"id", "created_at", "title", "description", "area", "response", "lat", "lng"}
)

func decodeAreaMood(r backend.Row) (domain.AreaMood, error) {
	id := backend.RowID(r)
	if id == "" {
		return domain.AreaMood{}, errMissingID
	}
	m := domain.AreaMood{
		ID:          id,
		Area:        str(r, "area"),
		Sentiment:   str(r, "sentiment"),
		Description: str(r, "description"),
		CreatedAt:   timeField(r, "created_at"),
	}
	if m.Description == "" {
		m.Description = domain.DefaultMoodDescription(m.Sentiment)
	}
	// A missing boundary falls back to the placeholder at render time. A
	// present but unusable one drops the row.
	if raw, ok := r["polygon"]; ok && raw != nil {
		g, err := domain.NormalizeGeometry(raw, domain.GeometryPolygon)
		if err != nil {
			return domain.AreaMood{}, fmt.Errorf("polygon: %w", err)
		}
		m.Polygon = g.(orb.Polygon)
	}
	return m, nil
}

func decodeEvent(r backend.Row) (domain.Event, error) {
	id := backend.RowID(r)
	if id == "" {
		return domain.Event{}, errMissingID
	}
	e := domain.Event{
		ID:          id,
		Name:        str(r, "event_name", "name"),
		Description: str(r, "event_description", "description"),
		Venue:       str(r, "venue"),
		StartTime:   timeField(r, "start_time", "startTime", "created_at"),
	}
	if d, ok := num(r, "predicted_density", "predictedDensity"); ok {
		d = math.Max(0, math.Min(1, d))
		e.PredictedDensity = &d
	}
	if g, err := domain.NormalizeGeometry(r["location"], domain.GeometryPoint); err == nil {
		e.Location = g.(orb.Point)
	} else {
		e.Location = domain.SyntheticPoint(id)
		e.Approximate = true
	}
	return e, nil
}

func decodeCommunity(r backend.Row) (domain.CommunityReport, error) {
	id := backend.RowID(r)
	if id == "" {
		return domain.CommunityReport{}, errMissingID
	}
	c := domain.CommunityReport{
		ID:          id,
		Title:       str(r, "title"),
		Description: str(r, "description"),
		Area:        str(r, "area"),
		Response:    str(r, "response"),
		CreatedAt:   timeField(r, "created_at"),
	}
	if lat, ok := num(r, "lat"); ok {
		c.Lat = &lat
	}
	if lng, ok := num(r, "lng"); ok {
		c.Lng = &lng
	}
	return c, nil
}

func decodeIncident(r backend.Row) (domain.Incident, error) {
	id := backend.RowID(r)
	if id == "" {
		return domain.Incident{}, errMissingID
	}
	g, err := domain.NormalizeGeometry(r["location"], domain.GeometryPoint)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("location: %w", err)
	}
	return domain.Incident{
		ID:          id,
		Type:        str(r, "type"),
		Severity:    domain.ParseSeverity(str(r, "severity")),
		Timestamp:   timeField(r, "timestamp"),
		Location:    g.(orb.Point),
		Description: str(r, "description"),
		MediaURLs:   strs(r, "media_urls", "mediaUrls"),
		Ward:        str(r, "ward"),
	}, nil
}

func decodeCivicIssue(r backend.Row) (domain.CivicIssue, error) {
	id := backend.RowID(r)
	if id == "" {
		return domain.CivicIssue{}, errMissingID
	}
	category, ok := domain.ParseCivicCategory(str(r, "category"))
	if !ok {
		return domain.CivicIssue{}, fmt.Errorf("unknown category %q", str(r, "category"))
	}
	status, ok := domain.ParseCivicStatus(str(r, "status"))
	if !ok {
		return domain.CivicIssue{}, fmt.Errorf("unknown status %q", str(r, "status"))
	}
	g, err := domain.NormalizeGeometry(r["location"], domain.GeometryPoint)
	if err != nil {
		return domain.CivicIssue{}, fmt.Errorf("location: %w", err)
	}
	return domain.CivicIssue{
		ID:          id,
		Category:    category,
		Status:      status,
		Severity:    domain.ParseSeverity(str(r, "severity")),
		Location:    g.(orb.Point),
		UpdatedAt:   timeField(r, "updated_at", "updatedAt"),
		Description: str(r, "description"),
	}, nil
}

func decodeTraffic(r backend.Row) (domain.TrafficSegment, error) {
	id := str(r, "road_id", "roadId")
	if id == "" {
		id = backend.RowID(r)
	}
	if id == "" {
		return domain.TrafficSegment{}, errMissingID
	}
	level, ok := num(r, "congestion_level", "congestionLevel")
	if !ok {
		return domain.TrafficSegment{}, errors.New("missing congestion level")
	}
	raw := r["coordinates"]
	if raw == nil {
		raw = r["path"]
	}
	g, err := domain.NormalizeGeometry(raw, domain.GeometryLineString)
	if err != nil {
		return domain.TrafficSegment{}, fmt.Errorf("path: %w", err)
	}
	return domain.TrafficSegment{
		ID:              id,
		CongestionLevel: math.Max(0, math.Min(1, level)),
		Path:            g.(orb.LineString),
	}, nil
}

// str returns the first non-empty string value among keys.
func str(r backend.Row, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// num returns the first finite numeric value among keys. Numeric strings
// are accepted since some drivers return numeric columns as text.
func num(r backend.Row, keys ...string) (float64, bool) {
	for _, k := range keys {
		var f float64
		switch v := r[k].(type) {
		case float64:
			f = v
		case float32:
			f = float64(v)
		case int:
			f = float64(v)
		case int32:
			f = float64(v)
		case int64:
			f = float64(v)
		case json.Number:
			parsed, err := v.Float64()
			if err != nil {
				continue
			}
			f = parsed
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			f = parsed
		default:
			continue
		}
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// timeField returns the first parseable timestamp among keys, in UTC.
func timeField(r backend.Row, keys ...string) time.Time {
	for _, k := range keys {
		switch v := r[k].(type) {
		case time.Time:
			return v.UTC()
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t.UTC()
				}
			}
		}
	}
	return time.Time{}
}

// strs decodes a string list stored as an array or a JSON string.
func strs(r backend.Row, keys ...string) []string {
	for _, k := range keys {
		v := r[k]
		if s, ok := v.(string); ok {
			var decoded []any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				continue
			}
			v = decoded
		}
		switch items := v.(type) {
		case []string:
			return items
		case []any:
			out := make([]string, 0, len(items))
			for _, item := range items {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}
