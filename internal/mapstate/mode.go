package mapstate

import (
	"fmt"
	"strings"
)

// Mode is the top-level dashboard context.
type Mode string

const (
	ModeLive      Mode = "Live"
	ModeEvents    Mode = "Events"
	ModeMood      Mode = "Mood"
	ModeEVHubs    Mode = "EVHubs"
	ModeCommunity Mode = "Community"
)

// InitialMode is the mode a new session starts in.
const InitialMode = ModeLive

// Modes lists every mode in menu order.
func Modes() []Mode {
	return []Mode{ModeLive, ModeEvents, ModeMood, ModeEVHubs, ModeCommunity}
}

// ParseMode matches a mode name case-insensitively. "ev-hubs" and
// "ev hubs" are accepted for EVHubs.
func ParseMode(s string) (Mode, error) {
	norm := strings.NewReplacer("-", "", " ", "", "_", "").Replace(strings.TrimSpace(s))
	for _, m := range Modes() {
		if strings.EqualFold(norm, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// DefaultLayers is the fixed layer set a mode activates when the user has
// not toggled anything since entering it.
func DefaultLayers(m Mode) LayerSet {
	switch m {
	case ModeLive:
		return NewLayerSet(LayerTraffic)
	case ModeEvents:
		return NewLayerSet(LayerEvents)
	case ModeMood:
		return NewLayerSet(LayerSentiment)
	case ModeEVHubs:
		return NewLayerSet(LayerEvHubs)
	default:
		// Community draws its own overlay instead of registry layers.
		return NewLayerSet()
	}
}
