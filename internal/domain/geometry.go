package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/paulmach/orb"
)

// GeometryType is the geometry shape a caller expects from a record.
type GeometryType int

const (
	GeometryPoint GeometryType = iota + 1
	GeometryLineString
	GeometryPolygon
)

func (t GeometryType) String() string {
	switch t {
	case GeometryPoint:
		return "Point"
	case GeometryLineString:
		return "LineString"
	case GeometryPolygon:
		return "Polygon"
	default:
		return fmt.Sprintf("GeometryType(%d)", int(t))
	}
}

// ErrInvalidGeometry is returned (wrapped) for any input that does not
// decode to a well-formed geometry of the requested type.
var ErrInvalidGeometry = errors.New("invalid geometry")

// maxUnwrapDepth bounds wrapper/string nesting such as {"polygon":"[[...]]"}.
const maxUnwrapDepth = 4

// NormalizeGeometry decodes an upstream location value into a geometry of
// type want. Accepted encodings are a bare coordinate array, a GeoJSON
// geometry object, an object wrapping the coordinates under "coordinates" or
// "polygon", and a JSON string holding any of these.
//
// Polygons need at least one ring of at least four positions. A bare ring
// (one level of nesting less than a polygon) is accepted as a single-ring
// polygon, and open rings are closed. Every position must be exactly two
// finite numbers.
//
// It never panics; all failures wrap ErrInvalidGeometry.
func NormalizeGeometry(raw any, want GeometryType) (orb.Geometry, error) {
	coords, err := unwrap(raw, want, 0)
	if err != nil {
		return nil, err
	}

	var g orb.Geometry
	switch want {
	case GeometryPoint:
		g, err = position(coords)
	case GeometryLineString:
		g, err = lineString(coords)
	case GeometryPolygon:
		g, err = polygon(coords)
	default:
		err = fmt.Errorf("%w: unsupported type %s", ErrInvalidGeometry, want)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func unwrap(v any, want GeometryType, depth int) (any, error) {
	if depth > maxUnwrapDepth {
		return nil, fmt.Errorf("%w: nested too deeply", ErrInvalidGeometry)
	}

	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing", ErrInvalidGeometry)
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, fmt.Errorf("%w: empty string", ErrInvalidGeometry)
		}
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, fmt.Errorf("%w: parse: %w", ErrInvalidGeometry, err)
		}
		return unwrap(parsed, want, depth+1)
	case []byte:
		return unwrap(string(x), want, depth+1)
	case json.RawMessage:
		return unwrap(string(x), want, depth+1)
	case map[string]any:
		if t, ok := x["type"].(string); ok {
			if c, has := x["coordinates"]; has {
				if !strings.EqualFold(t, want.String()) {
					return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidGeometry, t, want)
				}
				return unwrap(c, want, depth+1)
			}
		}
		for _, key := range []string{"coordinates", "polygon"} {
			if c, ok := x[key]; ok && c != nil {
				return unwrap(c, want, depth+1)
			}
		}
		return nil, fmt.Errorf("%w: object has no coordinates", ErrInvalidGeometry)
	default:
		return x, nil
	}
}

func position(v any) (orb.Point, error) {
	items, ok := slice(v)
	if !ok || len(items) != 2 {
		return orb.Point{}, fmt.Errorf("%w: position must be a [lng, lat] pair", ErrInvalidGeometry)
	}
	lng, ok1 := number(items[0])
	lat, ok2 := number(items[1])
	if !ok1 || !ok2 {
		return orb.Point{}, fmt.Errorf("%w: position must hold finite numbers", ErrInvalidGeometry)
	}
	return orb.Point{lng, lat}, nil
}

func lineString(v any) (orb.LineString, error) {
	items, ok := slice(v)
	if !ok || len(items) < 2 {
		return nil, fmt.Errorf("%w: line string needs at least 2 positions", ErrInvalidGeometry)
	}
	ls := make(orb.LineString, 0, len(items))
	for _, item := range items {
		p, err := position(item)
		if err != nil {
			return nil, err
		}
		ls = append(ls, p)
	}
	return ls, nil
}

func polygon(v any) (orb.Polygon, error) {
	items, ok := slice(v)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("%w: polygon needs at least one ring", ErrInvalidGeometry)
	}

	// A bare ring: the first element is already a position.
	if _, err := position(items[0]); err == nil {
		r, err := ring(items)
		if err != nil {
			return nil, err
		}
		return orb.Polygon{r}, nil
	}

	poly := make(orb.Polygon, 0, len(items))
	for _, item := range items {
		rv, ok := slice(item)
		if !ok {
			return nil, fmt.Errorf("%w: ring must be an array", ErrInvalidGeometry)
		}
		r, err := ring(rv)
		if err != nil {
			return nil, err
		}
		poly = append(poly, r)
	}
	return poly, nil
}

func ring(items []any) (orb.Ring, error) {
	if len(items) < 4 {
		return nil, fmt.Errorf("%w: ring needs at least 4 positions, got %d", ErrInvalidGeometry, len(items))
	}
	r := make(orb.Ring, 0, len(items)+1)
	for _, item := range items {
		p, err := position(item)
		if err != nil {
			return nil, err
		}
		r = append(r, p)
	}
	if !r.Closed() {
		r = append(r, r[0])
	}
	return r, nil
}

// slice views any slice value as []any. Drivers hand back []any, []float64
// or nested typed slices depending on the column type.
func slice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
