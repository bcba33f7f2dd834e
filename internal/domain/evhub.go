package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// EvHub is an EV charging location.
type EvHub struct {
	ID        string
	Name      string
	Address   string
	Operator  string
	UsageType string
	Connector string
	Available *int
	Total     *int
	Location  orb.Point
}

func (h EvHub) Identity() string { return h.ID }

func (h EvHub) Feature(_ time.Time) (Feature, bool) {
	attrs := map[string]any{
		"name":      h.Name,
		"address":   h.Address,
		"operator":  h.Operator,
		"usageType": h.UsageType,
		"connector": h.Connector,
	}
	if h.Available != nil {
		attrs["available"] = *h.Available
	}
	if h.Total != nil {
		attrs["total"] = *h.Total
	}
	return Feature{
		ID:         h.ID,
		Kind:       KindEvHub,
		Geometry:   h.Location,
		Attributes: attrs,
	}, true
}
