// Package search turns free-text place queries into camera commands.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

const (
	// FlyToZoom is the zoom the camera lands at after a successful search.
	FlyToZoom = 14
	// FlyToDuration is the camera animation length.
	FlyToDuration = 2 * time.Second
)

var (
	// ErrEmptyQuery is returned for blank queries; nothing happens.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrNoResults is returned when the geocoder found nothing.
	ErrNoResults = errors.New("no results found")
	// ErrSuperseded is returned when a newer search started before this one finished.
	ErrSuperseded = errors.New("search superseded by a newer query")
)

// CameraCommand moves the map camera.
type CameraCommand struct {
	Center   orb.Point
	Zoom     float64
	Duration time.Duration
	Place    string
}

// Navigator runs searches for one session. Only the most recent search may
// move the camera; starting a search cancels the one in flight.
type Navigator struct {
	geocoder domain.Geocoder
	metrics  *observability.Metrics

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewNavigator creates a Navigator. metrics may be nil.
func NewNavigator(geocoder domain.Geocoder, metrics *observability.Metrics) *Navigator {
	return &Navigator{geocoder: geocoder, metrics: metrics}
}

// Search geocodes query and returns the fly-to command for the best match.
func (n *Navigator) Search(ctx context.Context, query string) (CameraCommand, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		n.count("empty")
		return CameraCommand{}, ErrEmptyQuery
	}

	ctx, id := n.begin(ctx)
	result, err := n.geocoder.ForwardGeocode(ctx, query)

	if !n.finish(id) {
		n.count("superseded")
		return CameraCommand{}, ErrSuperseded
	}
	if err != nil {
		n.count("error")
		return CameraCommand{}, fmt.Errorf("search %q: %w", query, err)
	}
	if !result.Found() {
		n.count("no_results")
		return CameraCommand{}, ErrNoResults
	}

	n.count("ok")
	return CameraCommand{
		Center:   orb.Point{result.Lon, result.Lat},
		Zoom:     FlyToZoom,
		Duration: FlyToDuration,
		Place:    result.FormattedAddress,
	}, nil
}

// Close cancels any search in flight.
func (n *Navigator) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

func (n *Navigator) begin(parent context.Context) (context.Context, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		n.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	n.seq++
	n.cancel = cancel
	return ctx, n.seq
}

// finish reports whether id is still the latest search and releases its context.
func (n *Navigator) finish(id uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id != n.seq {
		return false
	}
	n.cancel()
	n.cancel = nil
	return true
}

func (n *Navigator) count(outcome string) {
	if n.metrics != nil {
		n.metrics.Searches.WithLabelValues(outcome).Inc()
	}
}
