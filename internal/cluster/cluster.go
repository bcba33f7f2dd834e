// Package cluster groups point features for display at low zoom levels and
// answers the expansion-zoom queries that cluster clicks need.
//
// Grouping uses a fixed pixel grid in Web Mercator space per zoom level.
// It mirrors what the map surface draws; it is not a spatial query index.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrClusterNotFound is returned for ids the index did not produce.
var ErrClusterNotFound = errors.New("cluster not found")

// Options control grouping. Zero fields take the defaults.
type Options struct {
	Radius   float64 // cell size in pixels
	MaxZoom  int     // last zoom at which points are grouped
	TileSize float64 // pixels per tile edge
}

// DefaultOptions match the incidents source on the map surface.
func DefaultOptions() Options {
	return Options{Radius: 50, MaxZoom: 14, TileSize: 512}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Radius <= 0 {
		o.Radius = d.Radius
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = d.MaxZoom
	}
	if o.TileSize <= 0 {
		o.TileSize = d.TileSize
	}
	return o
}

// Point is an input feature.
type Point struct {
	ID         string
	Location   orb.Point
	Properties map[string]any
}

type cell struct{ x, y int }

type group struct {
	clusterID int // -1 for a lone point
	members   []int
	center    orb.Point
}

type clusterInfo struct {
	zoom    int
	members []int
}

// Index is an immutable set of grouped points. It is safe for concurrent use.
type Index struct {
	opts     Options
	points   []Point
	levels   [][]group // indexed by zoom 0..MaxZoom
	clusters map[int]clusterInfo
}

// New groups points at every zoom from 0 to opts.MaxZoom.
func New(points []Point, opts Options) *Index {
	opts = opts.withDefaults()
	ix := &Index{
		opts:     opts,
		points:   points,
		levels:   make([][]group, opts.MaxZoom+1),
		clusters: make(map[int]clusterInfo),
	}

	all := make([]int, len(points))
	for i := range all {
		all[i] = i
	}

	for z := 0; z <= opts.MaxZoom; z++ {
		byCell := ix.groupByCell(all, z)
		cells := make([]cell, 0, len(byCell))
		for c := range byCell {
			cells = append(cells, c)
		}
		sort.Slice(cells, func(i, j int) bool {
			if cells[i].y != cells[j].y {
				return cells[i].y < cells[j].y
			}
			return cells[i].x < cells[j].x
		})

		level := make([]group, 0, len(cells))
		for _, c := range cells {
			members := byCell[c]
			g := group{clusterID: -1, members: members, center: ix.centroid(members)}
			if len(members) > 1 {
				g.clusterID = ix.clusterID(c, z)
				ix.clusters[g.clusterID] = clusterInfo{zoom: z, members: members}
			}
			level = append(level, g)
		}
		ix.levels[z] = level
	}
	return ix
}

// Clusters returns the features to draw at zoom: cluster markers carrying
// cluster, cluster_id and point_count, and lone points with their own
// properties. Above MaxZoom every point is returned individually.
func (ix *Index) Clusters(zoom int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if zoom < 0 {
		zoom = 0
	}
	if zoom > ix.opts.MaxZoom {
		for i := range ix.points {
			fc.Append(ix.pointFeature(i))
		}
		return fc
	}

	for _, g := range ix.levels[zoom] {
		if g.clusterID < 0 {
			fc.Append(ix.pointFeature(g.members[0]))
			continue
		}
		f := geojson.NewFeature(g.center)
		f.ID = g.clusterID
		f.Properties["cluster"] = true
		f.Properties["cluster_id"] = g.clusterID
		f.Properties["point_count"] = len(g.members)
		f.Properties["point_count_abbreviated"] = abbreviate(len(g.members))
		fc.Append(f)
	}
	return fc
}

// ExpansionZoom returns the first zoom at which the cluster's members no
// longer share one cell. Members that never separate (identical positions)
// expand at MaxZoom+1, where clustering stops.
func (ix *Index) ExpansionZoom(clusterID int) (int, error) {
	info, ok := ix.clusters[clusterID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	for z := info.zoom + 1; z <= ix.opts.MaxZoom; z++ {
		if len(ix.groupByCell(info.members, z)) > 1 {
			return z, nil
		}
	}
	return ix.opts.MaxZoom + 1, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

func (ix *Index) groupByCell(members []int, zoom int) map[cell][]int {
	out := make(map[cell][]int)
	scale := ix.opts.TileSize * math.Exp2(float64(zoom))
	for _, i := range members {
		x, y := project(ix.points[i].Location)
		c := cell{
			x: int(math.Floor(x * scale / ix.opts.Radius)),
			y: int(math.Floor(y * scale / ix.opts.Radius)),
		}
		out[c] = append(out[c], i)
	}
	return out
}

// clusterID numbers a cell by its zoom and grid position, so rebuilding
// the index over moved or added points keeps ids for the cells that
// still cluster. Ids stay below 2^53 for the default options.
func (ix *Index) clusterID(c cell, zoom int) int {
	perAxis := int(math.Ceil(ix.opts.TileSize * math.Exp2(float64(zoom)) / ix.opts.Radius))
	pos := c.y*perAxis + c.x
	return pos*(ix.opts.MaxZoom+1) + zoom + 1
}

func (ix *Index) centroid(members []int) orb.Point {
	var lng, lat float64
	for _, i := range members {
		lng += ix.points[i].Location.Lon()
		lat += ix.points[i].Location.Lat()
	}
	n := float64(len(members))
	return orb.Point{lng / n, lat / n}
}

func (ix *Index) pointFeature(i int) *geojson.Feature {
	p := ix.points[i]
	f := geojson.NewFeature(p.Location)
	f.ID = p.ID
	for k, v := range p.Properties {
		f.Properties[k] = v
	}
	return f
}

const maxMercatorLat = 85.05112878

// project maps a position to unit Web Mercator coordinates in [0,1].
func project(p orb.Point) (x, y float64) {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat()))
	sin := math.Sin(lat * math.Pi / 180)
	x = p.Lon()/360 + 0.5
	y = 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return x, y
}

func abbreviate(n int) string {
	switch {
	case n >= 1000000:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	case n >= 10000:
		return fmt.Sprintf("%dk", n/1000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}
