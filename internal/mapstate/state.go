package mapstate

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/couchcryptid/city-pulse/internal/domain"
)

// Selection is the feature whose detail panel is open.
type Selection struct {
	Layer      LayerID        `json:"layer"`
	Kind       string         `json:"kind"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// State is a snapshot of one client's map state.
//
// Overrides is nil until the user toggles a layer in the current mode.
// Once set it replaces the mode default entirely, even when empty.
//
// HiddenSeverities narrows the incidents layer. It survives mode changes.
type State struct {
	Mode             Mode
	Overrides        LayerSet
	Selection        *Selection
	HiddenSeverities []domain.Severity
}

// NewState returns the initial state: Live mode, defaults, nothing selected.
func NewState() State {
	return State{Mode: InitialMode}
}

// ActiveLayers resolves the effective layer set. A nil overrides set means
// no override was recorded and the mode default applies.
func ActiveLayers(mode Mode, overrides LayerSet) LayerSet {
	if overrides == nil {
		return DefaultLayers(mode)
	}
	return overrides.Clone()
}

// ActiveLayers resolves the effective layer set for s.
func (s State) ActiveLayers() LayerSet {
	return ActiveLayers(s.Mode, s.Overrides)
}

// pinnedInLive are drawn in Live mode whenever they have data, regardless
// of toggles.
var pinnedInLive = []LayerID{LayerIncidents, LayerCivicIssues}

// VisibleLayers is the set actually drawn: the active layers, plus the Live
// pinned layers that have data, plus the community overlay in Community mode.
func (s State) VisibleLayers(hasData func(LayerID) bool) LayerSet {
	visible := s.ActiveLayers()
	switch s.Mode {
	case ModeLive:
		for _, id := range pinnedInLive {
			if hasData != nil && hasData(id) {
				visible[id] = struct{}{}
			}
		}
	case ModeCommunity:
		visible[LayerCommunity] = struct{}{}
	}
	return visible
}

// ShowsSeverity reports whether incidents of sev are drawn.
func (s State) ShowsSeverity(sev domain.Severity) bool {
	return !slices.Contains(s.HiddenSeverities, sev)
}

// Clone deep-copies the state so callers can hold it outside the store lock.
func (s State) Clone() State {
	out := State{Mode: s.Mode, HiddenSeverities: slices.Clone(s.HiddenSeverities)}
	if s.Overrides != nil {
		out.Overrides = s.Overrides.Clone()
	}
	if s.Selection != nil {
		sel := *s.Selection
		sel.Attributes = maps.Clone(s.Selection.Attributes)
		out.Selection = &sel
	}
	return out
}

// Action is a state transition request.
type Action interface {
	apply(State) State
	validate() error
}

// SetMode switches mode. It always clears overrides and the selection.
type SetMode struct{ Mode Mode }

// ToggleSeverity shows or hides incidents of one severity.
type ToggleSeverity struct{ Severity domain.Severity }

// ToggleLayer flips a layer in the effective set and records the result as
// the override for the current mode.
type ToggleLayer struct{ Layer LayerID }

// SelectFeature opens the detail panel for a feature.
type SelectFeature struct{ Selection Selection }

// ClearSelection closes the detail panel.
type ClearSelection struct{}

var errNoSelection = errors.New("selection requires an id")

func (a SetMode) validate() error {
	if !slices.Contains(Modes(), a.Mode) {
		return fmt.Errorf("unknown mode %q", a.Mode)
	}
	return nil
}

func (a SetMode) apply(s State) State {
	return State{Mode: a.Mode, HiddenSeverities: slices.Clone(s.HiddenSeverities)}
}

func (a ToggleSeverity) validate() error {
	if !slices.Contains(domain.Severities(), a.Severity) {
		return fmt.Errorf("unknown severity %q", a.Severity)
	}
	return nil
}

func (a ToggleSeverity) apply(s State) State {
	out := s.Clone()
	if i := slices.Index(out.HiddenSeverities, a.Severity); i >= 0 {
		out.HiddenSeverities = slices.Delete(out.HiddenSeverities, i, i+1)
	} else {
		out.HiddenSeverities = append(out.HiddenSeverities, a.Severity)
		slices.Sort(out.HiddenSeverities)
	}
	if len(out.HiddenSeverities) == 0 {
		out.HiddenSeverities = nil
	}
	return out
}

func (a ToggleLayer) validate() error {
	for _, l := range registry {
		if l.ID == a.Layer {
			return nil
		}
	}
	return fmt.Errorf("unknown layer %q", a.Layer)
}

func (a ToggleLayer) apply(s State) State {
	next := s.ActiveLayers()
	if next.Has(a.Layer) {
		delete(next, a.Layer)
	} else {
		next[a.Layer] = struct{}{}
	}
	out := s.Clone()
	out.Overrides = next
	return out
}

func (a SelectFeature) validate() error {
	if a.Selection.ID == "" {
		return errNoSelection
	}
	return nil
}

func (a SelectFeature) apply(s State) State {
	out := s.Clone()
	sel := a.Selection
	sel.Attributes = maps.Clone(a.Selection.Attributes)
	out.Selection = &sel
	return out
}

func (ClearSelection) validate() error { return nil }

func (ClearSelection) apply(s State) State {
	out := s.Clone()
	out.Selection = nil
	return out
}

// Validate reports whether a can be applied.
func Validate(a Action) error {
	if a == nil {
		return errors.New("nil action")
	}
	if err := a.validate(); err != nil {
		return fmt.Errorf("invalid %T: %w", a, err)
	}
	return nil
}

// Reduce applies a to s and returns the new state. It does not mutate s.
// Callers should Validate first; Reduce assumes a is well-formed.
func Reduce(s State, a Action) State {
	return a.apply(s)
}
