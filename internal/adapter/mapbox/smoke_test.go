//go:build mapbox

package mapbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/observability"
)

// These tests hit the real Mapbox API and require a valid MAPBOX_TOKEN env var.
// Run with: go test -tags=mapbox ./internal/adapter/mapbox/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	token := os.Getenv("MAPBOX_TOKEN")
	if token == "" {
		t.Fatal("MAPBOX_TOKEN must be set to run smoke tests")
	}
	return NewClient(token, 10*time.Second, 5, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ForwardGeocode(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ForwardGeocode(context.Background(), "Marina Beach")
	require.NoError(t, err)

	assert.InDelta(t, 13.05, result.Lat, 0.1, "lat should be near Chennai")
	assert.InDelta(t, 80.28, result.Lon, 0.1, "lon should be near Chennai")
	assert.NotEmpty(t, result.FormattedAddress)
	assert.Greater(t, result.Confidence, 0.5)
}

func TestSmoke_ReverseGeocode(t *testing.T) {
	c := smokeClient(t)

	result, err := c.ReverseGeocode(context.Background(), 13.0418, 80.2337)
	require.NoError(t, err)

	assert.NotEmpty(t, result.FormattedAddress)
	assert.NotEmpty(t, result.PlaceName)
}

func TestSmoke_CachedGeocoder(t *testing.T) {
	c := smokeClient(t)
	cached := NewCachedGeocoder(c, 10, observability.NewMetricsForTesting())

	r1, err := cached.ForwardGeocode(context.Background(), "Anna Nagar")
	require.NoError(t, err)

	r2, err := cached.ForwardGeocode(context.Background(), "Anna Nagar")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestSmoke_TrafficTiles(t *testing.T) {
	c := smokeClient(t)
	tiles := NewTrafficTiles(c, 13, 0.01, slog.New(slog.NewTextHandler(io.Discard, nil)))

	segs, err := tiles.FetchSegments(context.Background())
	require.NoError(t, err)
	for _, s := range segs {
		assert.GreaterOrEqual(t, len(s.Path), 2)
	}
}
