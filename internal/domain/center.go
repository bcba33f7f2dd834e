package domain

import (
	"sync/atomic"

	"github.com/paulmach/orb"
)

// DefaultCityCenter is Chennai, the reference point for synthesized
// geometry and search proximity.
var DefaultCityCenter = orb.Point{80.2785, 13.0600}

var cityCenter atomic.Pointer[orb.Point]

// CityCenter returns the configured reference point.
func CityCenter() orb.Point {
	if p := cityCenter.Load(); p != nil {
		return *p
	}
	return DefaultCityCenter
}

// SetCityCenter replaces the reference point. The zero point resets it.
func SetCityCenter(p orb.Point) {
	if p == (orb.Point{}) {
		cityCenter.Store(nil)
		return
	}
	cityCenter.Store(&p)
}
