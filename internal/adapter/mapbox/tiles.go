package mapbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/city-pulse/internal/domain"
)

const (
	trafficTileset = "mapbox.mapbox-traffic-v1"
	trafficLayer   = "traffic"

	// DefaultTrafficZoom is the zoom traffic tiles are sampled at.
	DefaultTrafficZoom = 13
	// DefaultTrafficRadius is the half-width, in degrees, of the sampled area.
	DefaultTrafficRadius = 0.05

	maxTrafficTiles  = 64
	tileFetchWorkers = 4
)

// TrafficTiles samples the live Mapbox traffic tileset around the city
// center and decodes it into categorized road segments.
type TrafficTiles struct {
	client *Client
	zoom   maptile.Zoom
	radius float64
	logger *slog.Logger
}

// NewTrafficTiles creates a segment source backed by client. Zero values
// select the defaults.
func NewTrafficTiles(client *Client, zoom int, radius float64, logger *slog.Logger) *TrafficTiles {
	if zoom <= 0 {
		zoom = DefaultTrafficZoom
	}
	if radius <= 0 {
		radius = DefaultTrafficRadius
	}
	return &TrafficTiles{client: client, zoom: maptile.Zoom(zoom), radius: radius, logger: logger}
}

// FetchSegments downloads every tile covering the sampled area. Tiles that
// fail are skipped; an error is returned only when all of them fail.
func (t *TrafficTiles) FetchSegments(ctx context.Context) ([]domain.TrafficSegment, error) {
	tiles := tilesAround(domain.CityCenter(), t.radius, t.zoom)

	var (
		mu       sync.Mutex
		segments []domain.TrafficSegment
		failed   int
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tileFetchWorkers)
	for _, tile := range tiles {
		g.Go(func() error {
			segs, err := t.fetchTile(gctx, tile)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				t.logger.Warn("traffic tile failed", "tile", fmt.Sprintf("%d/%d/%d", tile.Z, tile.X, tile.Y), "error", err)
				return nil
			}
			segments = append(segments, segs...)
			return nil
		})
	}
	_ = g.Wait()

	if len(tiles) > 0 && failed == len(tiles) {
		return nil, fmt.Errorf("fetch traffic tiles: %w", lastErr)
	}
	return segments, nil
}

func (t *TrafficTiles) fetchTile(ctx context.Context, tile maptile.Tile) ([]domain.TrafficSegment, error) {
	u := fmt.Sprintf("%s/%s/%d/%d/%d.vector.pbf?%s", t.client.tilesURL, trafficTileset, tile.Z, tile.X, tile.Y,
		url.Values{"access_token": {t.client.token}}.Encode())

	body, err := t.client.get(ctx, u, "tiles")
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read tile: %w", err)
	}
	return decodeTrafficTile(data, tile)
}

// decodeTrafficTile turns an encoded tile into segments. Multi-line
// features are split so every segment is a single path.
func decodeTrafficTile(data []byte, tile maptile.Tile) ([]domain.TrafficSegment, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	layers.ProjectToWGS84(tile)

	var segments []domain.TrafficSegment
	for _, layer := range layers {
		if layer.Name != trafficLayer {
			continue
		}
		for i, f := range layer.Features {
			category := f.Properties.MustString("congestion", "")
			base := fmt.Sprintf("tile-%d-%d-%d-%d", tile.Z, tile.X, tile.Y, i)

			switch g := f.Geometry.(type) {
			case orb.LineString:
				if len(g) >= 2 {
					segments = append(segments, domain.TrafficSegment{ID: base, Category: category, Path: g})
				}
			case orb.MultiLineString:
				for j, ls := range g {
					if len(ls) >= 2 {
						segments = append(segments, domain.TrafficSegment{
							ID:       fmt.Sprintf("%s-%d", base, j),
							Category: category,
							Path:     ls,
						})
					}
				}
			}
		}
	}
	return segments, nil
}

// tilesAround lists the tiles covering a square of the given half-width
// around center, capped at maxTrafficTiles.
func tilesAround(center orb.Point, radius float64, zoom maptile.Zoom) []maptile.Tile {
	minTile := maptile.At(orb.Point{center.Lon() - radius, center.Lat() - radius}, zoom)
	maxTile := maptile.At(orb.Point{center.Lon() + radius, center.Lat() + radius}, zoom)

	// Tile Y grows southward.
	minY, maxY := min(minTile.Y, maxTile.Y), max(minTile.Y, maxTile.Y)

	var tiles []maptile.Tile
	for x := minTile.X; x <= maxTile.X; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, maptile.New(x, y, zoom))
			if len(tiles) == maxTrafficTiles {
				return tiles
			}
		}
	}
	return tiles
}
