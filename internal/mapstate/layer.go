// Package mapstate holds the per-client map state: which mode is active,
// which layers are shown, and which feature is selected.
//
// State changes go through [Reduce], a pure transition function, and are
// serialized per client by a [Store].
package mapstate

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// LayerID names a toggleable data layer.
type LayerID string

const (
	LayerIncidents   LayerID = "incidents"
	LayerCivicIssues LayerID = "civic-issues"
	LayerEvents      LayerID = "events"
	LayerEvHubs      LayerID = "ev-hubs"
	LayerTraffic     LayerID = "traffic"
	LayerSentiment   LayerID = "sentiment"

	// LayerCommunity is the community overlay. It is driven by the
	// Community mode only and is not part of the toggleable registry.
	LayerCommunity LayerID = "community"
)

// Layer is a registry entry.
type Layer struct {
	ID   LayerID `json:"id"`
	Name string  `json:"name"`
}

var registry = []Layer{
	{ID: LayerTraffic, Name: "Traffic"},
	{ID: LayerIncidents, Name: "Incidents"},
	{ID: LayerCivicIssues, Name: "Civic Issues"},
	{ID: LayerEvents, Name: "Events"},
	{ID: LayerEvHubs, Name: "EV Hubs"},
	{ID: LayerSentiment, Name: "Area Mood"},
}

// Layers returns the toggleable layers in display order.
func Layers() []Layer {
	return slices.Clone(registry)
}

// ParseLayer matches a registry layer id case-insensitively.
func ParseLayer(s string) (LayerID, error) {
	for _, l := range registry {
		if strings.EqualFold(strings.TrimSpace(s), string(l.ID)) {
			return l.ID, nil
		}
	}
	return "", fmt.Errorf("unknown layer %q", s)
}

// LayerSet is an unordered set of layer ids.
type LayerSet map[LayerID]struct{}

// NewLayerSet builds a set from ids.
func NewLayerSet(ids ...LayerID) LayerSet {
	s := make(LayerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s LayerSet) Has(id LayerID) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy; a nil set clones to an empty one.
func (s LayerSet) Clone() LayerSet {
	out := make(LayerSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Sorted returns the ids in lexical order for stable output.
func (s LayerSet) Sorted() []LayerID {
	ids := make([]LayerID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Equal reports whether both sets hold the same ids.
func (s LayerSet) Equal(other LayerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}
