package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is the time source for freshness checks and feature timestamps.
// Tests swap in a fake via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock.
func Now() time.Time {
	return clock.Now()
}
