// Package interaction resolves clicks on rendered map features back to the
// domain record or cluster they represent.
package interaction

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
)

// RenderedFeature is a feature as reported back by the map surface under a
// click. Nested property values may have been flattened to JSON strings.
type RenderedFeature struct {
	Layer      mapstate.LayerID
	Geometry   orb.Geometry
	Properties map[string]any
}

// Action is the outcome of a click.
type Action interface {
	ActionName() string
}

// ExpandCluster moves the camera into a cluster.
type ExpandCluster struct {
	ClusterID int
	Center    orb.Point
	Zoom      int
}

// ShowDetail opens the detail view for one record.
type ShowDetail struct {
	Layer      mapstate.LayerID
	Kind       domain.Kind
	ID         string
	Attributes map[string]any
}

// ClearSelection dismisses the current detail view.
type ClearSelection struct{}

// Noop means the click has no effect.
type Noop struct{}

func (ExpandCluster) ActionName() string  { return "expand-cluster" }
func (ShowDetail) ActionName() string     { return "show-detail" }
func (ClearSelection) ActionName() string { return "clear-selection" }
func (Noop) ActionName() string           { return "noop" }

// Expander answers cluster expansion-zoom queries for one source.
type Expander interface {
	ExpansionZoom(clusterID int) (int, error)
}

// IndexSource returns the cluster index behind a layer, or nil.
type IndexSource func(layer mapstate.LayerID) Expander

// Router resolves clicks. The zero value has no cluster indexes.
type Router struct {
	indexes IndexSource
	logger  *slog.Logger
}

// NewRouter creates a Router using indexes for cluster lookups.
func NewRouter(indexes IndexSource, logger *slog.Logger) *Router {
	return &Router{indexes: indexes, logger: logger}
}

// Resolve maps the hits under a click, topmost first, to an Action.
func (r *Router) Resolve(ctx context.Context, hits []RenderedFeature) Action {
	if ctx.Err() != nil {
		return Noop{}
	}
	if len(hits) == 0 {
		return ClearSelection{}
	}

	top := hits[0]
	if top.Layer == "" || top.Geometry == nil {
		return Noop{}
	}

	if isCluster(top.Properties) {
		return r.expand(top)
	}

	if top.Layer == mapstate.LayerSentiment {
		return Noop{}
	}
	if _, legacy := top.Properties["score"]; legacy {
		return Noop{}
	}

	attrs := reparse(top.Properties)
	id := idOf(attrs)
	if id == "" {
		// Basemap and tile features carry no identity to select.
		return Noop{}
	}
	return ShowDetail{
		Layer:      top.Layer,
		Kind:       kindOf(top.Layer, attrs),
		ID:         id,
		Attributes: attrs,
	}
}

func (r *Router) expand(hit RenderedFeature) Action {
	id, ok := clusterID(hit.Properties["cluster_id"])
	if !ok {
		return Noop{}
	}
	center, ok := hit.Geometry.(orb.Point)
	if !ok {
		return Noop{}
	}
	if r.indexes == nil {
		return Noop{}
	}
	idx := r.indexes(hit.Layer)
	if idx == nil {
		return Noop{}
	}
	zoom, err := idx.ExpansionZoom(id)
	if err != nil {
		r.log().Debug("cluster expansion lookup failed", "layer", hit.Layer, "cluster_id", id, "error", err)
		return Noop{}
	}
	return ExpandCluster{ClusterID: id, Center: center, Zoom: zoom}
}

func (r *Router) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

func isCluster(props map[string]any) bool {
	switch v := props["cluster"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

func clusterID(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != float64(int(x)) {
			return 0, false
		}
		return int(x), true
	case json.Number:
		n, err := x.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}

// reparse undoes the renderer's flattening. A "data" property holding the
// whole record replaces the flat properties; otherwise string values that
// look like JSON objects or arrays are decoded in place. Values that fail to
// decode are kept as they were.
func reparse(props map[string]any) map[string]any {
	if s, ok := props["data"].(string); ok {
		var whole map[string]any
		if err := json.Unmarshal([]byte(s), &whole); err == nil && whole != nil {
			for _, k := range []string{"id", "kind"} {
				if _, has := whole[k]; !has {
					if v, ok := props[k]; ok {
						whole[k] = v
					}
				}
			}
			return whole
		}
	}

	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
		s, ok := v.(string)
		if !ok || !looksLikeJSON(s) {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}

var layerKinds = map[mapstate.LayerID]domain.Kind{
	mapstate.LayerIncidents:   domain.KindIncident,
	mapstate.LayerCivicIssues: domain.KindCivicIssue,
	mapstate.LayerEvents:      domain.KindEvent,
	mapstate.LayerEvHubs:      domain.KindEvHub,
	mapstate.LayerTraffic:     domain.KindTrafficSegment,
	mapstate.LayerSentiment:   domain.KindSentimentArea,
	mapstate.LayerCommunity:   domain.KindCommunityReport,
}

func kindOf(layer mapstate.LayerID, attrs map[string]any) domain.Kind {
	if k, ok := attrs["kind"].(string); ok && k != "" {
		return domain.Kind(k)
	}
	return layerKinds[layer]
}

func idOf(attrs map[string]any) string {
	switch v := attrs["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
