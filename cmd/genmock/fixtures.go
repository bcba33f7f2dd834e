package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

type area struct {
	name   string
	center orb.Point
}

var areas = []area{
	{"T. Nagar", orb.Point{80.2340, 13.0418}},
	{"Anna Nagar", orb.Point{80.2101, 13.0850}},
	{"Adyar", orb.Point{80.2570, 13.0012}},
	{"Mylapore", orb.Point{80.2676, 13.0368}},
	{"Velachery", orb.Point{80.2209, 12.9815}},
	{"Egmore", orb.Point{80.2605, 13.0732}},
}

var (
	moods         = []string{"happy", "sad", "angry", "neutral", "super happy", "super sad", "super angry"}
	incidentTypes = []string{"Accident", "Waterlogging", "Tree Fall", "Fire", "Road Block"}
	severities    = []string{"Critical", "Major", "Minor", "Info"}
	categories    = []string{"Pothole", "Garbage", "Water", "Electricity"}
	statuses      = []string{"Reported", "In-Progress", "Resolved"}
)

// generator produces rows with a seeded source so output is reproducible.
type generator struct {
	rnd *rand.Rand
	now time.Time
	ns  uuid.UUID
}

func newGenerator(seed uint64) *generator {
	return &generator{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: domain.Now(),
		ns:  uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("citypulse-fixtures-%d", seed))),
	}
}

// generate builds every backend table.
func generate(seed uint64, incidents int) map[string][]backend.Row {
	g := newGenerator(seed)
	return map[string][]backend.Row{
		backend.TableAreaMoods:   g.areaMoods(),
		backend.TableEvents:      g.events(),
		backend.TableCommunity:   g.community(),
		backend.TableIncidents:   g.incidents(incidents),
		backend.TableCivicIssues: g.civicIssues(incidents / 2),
		backend.TableTraffic:     g.traffic(),
	}
}

func (g *generator) id(kind string, i int) string {
	return uuid.NewSHA1(g.ns, []byte(fmt.Sprintf("%s-%d", kind, i))).String()
}

func (g *generator) pick(items []string) string {
	return items[g.rnd.IntN(len(items))]
}

func (g *generator) jitter(p orb.Point, spread float64) orb.Point {
	return orb.Point{
		round(p.Lon() + (g.rnd.Float64()*2-1)*spread),
		round(p.Lat() + (g.rnd.Float64()*2-1)*spread),
	}
}

func (g *generator) ago(maxAge time.Duration) string {
	age := time.Duration(g.rnd.Int64N(int64(maxAge)))
	return g.now.Add(-age).Truncate(time.Second).Format(time.RFC3339)
}

// areaMoods rotates through the boundary encodings the backend has been
// seen to store, so the fixtures exercise the geometry normalizer.
func (g *generator) areaMoods() []backend.Row {
	rows := make([]backend.Row, 0, len(areas))
	for i, a := range areas {
		ring := squareRing(a.center, 0.008)
		var polygon any
		switch i % 4 {
		case 0:
			polygon = mustJSON([][][2]float64{ring})
		case 1:
			polygon = map[string]any{"type": "Polygon", "coordinates": [][][2]float64{ring}}
		case 2:
			polygon = ring[:len(ring)-1] // bare, open ring
		default:
			polygon = map[string]any{"polygon": mustJSON([][][2]float64{ring})}
		}
		rows = append(rows, backend.Row{
			"id":          g.id("mood", i),
			"area":        a.name,
			"sentiment":   g.pick(moods),
			"description": fmt.Sprintf("Residents of %s report the day so far.", a.name),
			"polygon":     polygon,
			"created_at":  g.ago(6 * time.Hour),
		})
	}
	return rows
}

func (g *generator) events() []backend.Row {
	names := []string{"Marina Food Fest", "Carnatic Evening", "Book Fair", "Startup Meetup", "Temple Car Festival"}
	rows := make([]backend.Row, 0, len(names))
	for i, name := range names {
		row := backend.Row{
			"id":                g.id("event", i),
			"created_at":        g.ago(24 * time.Hour),
			"event_name":        name,
			"event_description": fmt.Sprintf("%s near %s.", name, areas[i%len(areas)].name),
		}
		// The last event has no location and is drawn at a synthetic point.
		if i < len(names)-1 {
			p := g.jitter(areas[i%len(areas)].center, 0.004)
			row["location"] = map[string]any{"type": "Point", "coordinates": [2]float64{p.Lon(), p.Lat()}}
		}
		rows = append(rows, row)
	}
	return rows
}

func (g *generator) community() []backend.Row {
	titles := []string{"Streetlight out", "Open manhole", "Stray dogs near school", "Overflowing drain"}
	rows := make([]backend.Row, 0, len(titles))
	for i, title := range titles {
		a := areas[(i+2)%len(areas)]
		row := backend.Row{
			"id":          g.id("community", i),
			"created_at":  g.ago(12 * time.Hour),
			"title":       title,
			"description": fmt.Sprintf("%s reported by a resident.", title),
			"area":        a.name,
			"response":    "",
		}
		// Every other report is left unlocated, as when the geocoder failed.
		if i%2 == 0 {
			p := g.jitter(a.center, 0.003)
			row["lat"], row["lng"] = p.Lat(), p.Lon()
		}
		rows = append(rows, row)
	}
	return rows
}

func (g *generator) incidents(n int) []backend.Row {
	rows := make([]backend.Row, 0, n)
	for i := range n {
		p := g.jitter(areas[i%len(areas)].center, 0.02)
		rows = append(rows, backend.Row{
			"id":          g.id("incident", i),
			"type":        g.pick(incidentTypes),
			"severity":    g.pick(severities),
			"timestamp":   g.ago(time.Hour),
			"location":    map[string]any{"type": "Point", "coordinates": [2]float64{p.Lon(), p.Lat()}},
			"description": "Reported via the city helpline.",
			"media_urls":  []string{fmt.Sprintf("https://media.example.org/incidents/%d.jpg", i)},
			"ward":        fmt.Sprintf("Ward %d", 100+g.rnd.IntN(100)),
		})
	}
	return rows
}

func (g *generator) civicIssues(n int) []backend.Row {
	rows := make([]backend.Row, 0, n)
	for i := range n {
		p := g.jitter(areas[i%len(areas)].center, 0.015)
		rows = append(rows, backend.Row{
			"id":          g.id("civic", i),
			"category":    g.pick(categories),
			"status":      g.pick(statuses),
			"severity":    g.pick(severities),
			"location":    [2]float64{p.Lon(), p.Lat()},
			"updated_at":  g.ago(72 * time.Hour),
			"description": "Logged by the ward office.",
		})
	}
	return rows
}

func (g *generator) traffic() []backend.Row {
	roads := []struct {
		id   string
		from orb.Point
		to   orb.Point
	}{
		{"anna-salai", orb.Point{80.2496, 13.0604}, orb.Point{80.2209, 13.0368}},
		{"omr", orb.Point{80.2480, 12.9941}, orb.Point{80.2270, 12.9010}},
		{"ecr", orb.Point{80.2590, 12.9980}, orb.Point{80.2520, 12.9200}},
		{"poonamallee-high-road", orb.Point{80.2710, 13.0830}, orb.Point{80.1900, 13.0730}},
	}
	rows := make([]backend.Row, 0, len(roads))
	for _, r := range roads {
		rows = append(rows, backend.Row{
			"road_id":          r.id,
			"congestion_level": round(g.rnd.Float64()),
			"coordinates":      mustJSON(polyline(r.from, r.to, 5)),
			"created_at":       g.ago(10 * time.Minute),
		})
	}
	return rows
}

func squareRing(c orb.Point, half float64) [][2]float64 {
	return [][2]float64{
		{round(c.Lon() - half), round(c.Lat() - half)},
		{round(c.Lon() + half), round(c.Lat() - half)},
		{round(c.Lon() + half), round(c.Lat() + half)},
		{round(c.Lon() - half), round(c.Lat() + half)},
		{round(c.Lon() - half), round(c.Lat() - half)},
	}
}

func polyline(from, to orb.Point, n int) [][2]float64 {
	out := make([][2]float64, n)
	for i := range n {
		t := float64(i) / float64(n-1)
		out[i] = [2]float64{
			round(from.Lon() + (to.Lon()-from.Lon())*t),
			round(from.Lat() + (to.Lat()-from.Lat())*t),
		}
	}
	return out
}

// round keeps six decimals, about 10 cm, so fixtures diff cleanly.
func round(f float64) float64 {
	const scale = 1e6
	if f < 0 {
		return float64(int64(f*scale-0.5)) / scale
	}
	return float64(int64(f*scale+0.5)) / scale
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
