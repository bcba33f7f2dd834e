// Package aggregator loads every map collection from its source, keeps the
// realtime-backed ones current, and hands out consistent snapshots.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/cluster"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

// DefaultFetchTimeout bounds each collection load.
const DefaultFetchTimeout = 12 * time.Second

// ErrSourceNotConfigured marks a collection whose source is disabled.
var ErrSourceNotConfigured = errors.New("source not configured")

// HubSource lists EV charging locations.
type HubSource interface {
	FetchHubs(ctx context.Context) ([]domain.EvHub, error)
}

// SegmentSource lists traffic segments from vector tiles.
type SegmentSource interface {
	FetchSegments(ctx context.Context) ([]domain.TrafficSegment, error)
}

// Deps wires an Aggregator. Store is required; the rest are optional.
type Deps struct {
	Store    backend.Store
	Feed     backend.ChangeFeed
	Hubs     HubSource
	Segments SegmentSource
	Geocoder domain.Geocoder // fills community report areas

	FetchTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics

	// Realtime resubscribe backoff; zero uses 200ms doubling to 5s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Aggregator owns every collection.
type Aggregator struct {
	store    backend.Store
	feed     backend.ChangeFeed
	hubs     HubSource
	segments SegmentSource
	geocoder domain.Geocoder

	fetchTimeout   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	clock          clockwork.Clock
	logger         *slog.Logger
	metrics        *observability.Metrics

	moods        *collection[domain.AreaMood]
	events       *collection[domain.Event]
	community    *collection[domain.CommunityReport]
	incidents    *collection[domain.Incident]
	civic        *collection[domain.CivicIssue]
	traffic      *collection[domain.TrafficSegment]
	trafficTiles *collection[domain.TrafficSegment]
	evHubs       *collection[domain.EvHub]

	clusterMu sync.RWMutex
	clusters  *cluster.Index

	bus    *Bus
	loaded atomic.Bool
}

// New creates an Aggregator. Collections start in the loading state.
func New(d Deps) *Aggregator {
	a := &Aggregator{
		store:          d.Store,
		feed:           d.Feed,
		hubs:           d.Hubs,
		segments:       d.Segments,
		geocoder:       d.Geocoder,
		fetchTimeout:   d.FetchTimeout,
		initialBackoff: d.InitialBackoff,
		maxBackoff:     d.MaxBackoff,
		clock:          d.Clock,
		logger:         d.Logger,
		metrics:        d.Metrics,

		moods:        newCollection[domain.AreaMood](AreaMoods),
		events:       newCollection[domain.Event](Events),
		community:    newCollection[domain.CommunityReport](Community),
		incidents:    newCollection[domain.Incident](Incidents),
		civic:        newCollection[domain.CivicIssue](CivicIssues),
		traffic:      newCollection[domain.TrafficSegment](Traffic),
		trafficTiles: newCollection[domain.TrafficSegment](TrafficTiles),
		evHubs:       newCollection[domain.EvHub](EvHubs),

		clusters: cluster.New(nil, cluster.DefaultOptions()),
		bus:      NewBus(),
	}
	if a.feed == nil {
		a.feed = backend.NoFeed{}
	}
	if a.fetchTimeout <= 0 {
		a.fetchTimeout = DefaultFetchTimeout
	}
	if a.initialBackoff <= 0 {
		a.initialBackoff = 200 * time.Millisecond
	}
	if a.maxBackoff <= 0 {
		a.maxBackoff = 5 * time.Second
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observability.NewMetricsForTesting()
	}
	return a
}

// Load fetches every collection concurrently. Each collection succeeds or
// fails on its own; Load itself only fails if ctx is cancelled.
func (a *Aggregator) Load(ctx context.Context) error {
	var g errgroup.Group
	for _, name := range Names() {
		g.Go(func() error {
			a.reload(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	a.loaded.Store(true)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load collections: %w", err)
	}
	return nil
}

// reload fetches one collection and publishes the result.
func (a *Aggregator) reload(ctx context.Context, name Name) {
	var err error
	switch name {
	case AreaMoods:
		err = loadInto(ctx, a, a.moods, selectRowsFor(a, AreaMoods, backend.TableAreaMoods, areaMoodColumns, "created_at", decodeAreaMood))
	case Events:
		err = loadInto(ctx, a, a.events, selectRowsFor(a, Events, backend.TableEvents, eventColumns, "created_at", decodeEvent))
	case Community:
		err = loadInto(ctx, a, a.community, a.withAreas(selectRowsFor(a, Community, backend.TableCommunity, communityColumns, "created_at", decodeCommunity)))
	case Incidents:
		err = loadInto(ctx, a, a.incidents, selectRowsFor(a, Incidents, backend.TableIncidents, nil, "timestamp", decodeIncident))
		if err == nil {
			a.rebuildClusters()
		}
	case CivicIssues:
		err = loadInto(ctx, a, a.civic, selectRowsFor(a, CivicIssues, backend.TableCivicIssues, nil, "updated_at", decodeCivicIssue))
	case Traffic:
		err = loadInto(ctx, a, a.traffic, selectRowsFor(a, Traffic, backend.TableTraffic, nil, "created_at", decodeTraffic))
	case TrafficTiles:
		err = loadInto(ctx, a, a.trafficTiles, a.fetchSegments)
	case EvHubs:
		err = loadInto(ctx, a, a.evHubs, a.fetchHubs)
	}
	action := "reloaded"
	if err != nil {
		action = "failed"
	}
	a.bus.Publish(Change{Collection: name, Action: action})
}

type fetchFunc[T domain.Entity] func(ctx context.Context) ([]entry[T], error)

func loadInto[T domain.Entity](ctx context.Context, a *Aggregator, c *collection[T], fetch fetchFunc[T]) error {
	start := a.clock.Now()
	c.setState(StateLoading, "", time.Time{})

	fetchCtx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	entries, err := fetch(fetchCtx)
	a.metrics.CollectionFetchDuration.WithLabelValues(string(c.name)).Observe(a.clock.Since(start).Seconds())

	if errors.Is(err, ErrSourceNotConfigured) {
		c.setState(StateDisabled, "", a.clock.Now())
		a.logger.Info("collection source not configured", "collection", c.name)
		return nil
	}
	if err != nil {
		a.metrics.CollectionFetches.WithLabelValues(string(c.name), "error").Inc()
		a.logger.Error("collection load failed", "collection", c.name, "error", err)
		c.setState(StateError, err.Error(), a.clock.Now())
		return err
	}

	c.replace(entries, a.clock.Now())
	a.metrics.CollectionFetches.WithLabelValues(string(c.name), "ok").Inc()
	a.logger.Info("collection loaded", "collection", c.name, "count", len(entries))
	return nil
}

// selectRowsFor builds a fetch that reads a backend table newest first and
// decodes each row, dropping the ones that fail.
func selectRowsFor[T domain.Entity](a *Aggregator, name Name, table string, columns []string, orderBy string, decode func(backend.Row) (T, error)) fetchFunc[T] {
	return func(ctx context.Context) ([]entry[T], error) {
		rows, err := a.store.Select(ctx, backend.Query{
			Table:      table,
			Columns:    columns,
			OrderBy:    orderBy,
			Descending: true,
		})
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		out := make([]entry[T], 0, len(rows))
		for _, r := range rows {
			item, err := decode(r)
			if err != nil {
				a.dropRow(name, r, err)
				continue
			}
			out = append(out, entry[T]{item: item, row: r})
		}
		return out, nil
	}
}

func (a *Aggregator) dropRow(name Name, r backend.Row, err error) {
	a.metrics.RecordsDropped.WithLabelValues(string(name)).Inc()
	a.logger.Warn("dropping malformed row", "collection", name, "id", backend.RowID(r), "error", err)
}

func (a *Aggregator) fetchHubs(ctx context.Context) ([]entry[domain.EvHub], error) {
	if a.hubs == nil {
		return nil, ErrSourceNotConfigured
	}
	hubs, err := a.hubs.FetchHubs(ctx)
	if err != nil {
		return nil, err
	}
	return wrap(hubs), nil
}

func (a *Aggregator) fetchSegments(ctx context.Context) ([]entry[domain.TrafficSegment], error) {
	if a.segments == nil {
		return nil, ErrSourceNotConfigured
	}
	segs, err := a.segments.FetchSegments(ctx)
	if err != nil {
		return nil, err
	}
	return wrap(segs), nil
}

func wrap[T domain.Entity](items []T) []entry[T] {
	out := make([]entry[T], len(items))
	for i, item := range items {
		out[i] = entry[T]{item: item}
	}
	return out
}

// withAreas names the area of fetched reports that have coordinates but no
// area.
func (a *Aggregator) withAreas(fetch fetchFunc[domain.CommunityReport]) fetchFunc[domain.CommunityReport] {
	return func(ctx context.Context) ([]entry[domain.CommunityReport], error) {
		entries, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			entries[i].item = a.nameArea(ctx, entries[i].item)
		}
		return entries, nil
	}
}

func (a *Aggregator) nameArea(ctx context.Context, r domain.CommunityReport) domain.CommunityReport {
	if a.geocoder == nil {
		return r
	}
	r, _ = domain.EnrichReportArea(ctx, r, a.geocoder, a.logger)
	return r
}

func (a *Aggregator) rebuildClusters() {
	idx := IncidentIndex(a.incidents.items(), a.clock.Now())

	a.clusterMu.Lock()
	a.clusters = idx
	a.clusterMu.Unlock()
}

// IncidentIndex groups incidents for display, carrying their rendered
// properties on each point.
func IncidentIndex(incidents []domain.Incident, now time.Time) *cluster.Index {
	points := make([]cluster.Point, 0, len(incidents))
	for _, inc := range incidents {
		f, ok := inc.Feature(now)
		if !ok {
			continue
		}
		gf := f.GeoJSON()
		points = append(points, cluster.Point{ID: inc.ID, Location: inc.Location, Properties: gf.Properties})
	}
	return cluster.New(points, cluster.DefaultOptions())
}

// IncidentClusters returns the current display cluster index for incidents.
func (a *Aggregator) IncidentClusters() *cluster.Index {
	a.clusterMu.RLock()
	defer a.clusterMu.RUnlock()
	return a.clusters
}

// Changes returns the bus that announces collection changes.
func (a *Aggregator) Changes() *Bus { return a.bus }

// CheckReadiness returns nil once the first Load has finished, even if some
// collections failed.
func (a *Aggregator) CheckReadiness(_ context.Context) error {
	if !a.loaded.Load() {
		return errors.New("collections have not been loaded yet")
	}
	return nil
}

// Dataset is an immutable copy of every collection.
type Dataset struct {
	AreaMoods    []domain.AreaMood
	Events       []domain.Event
	Community    []domain.CommunityReport
	Incidents    []domain.Incident
	CivicIssues  []domain.CivicIssue
	Traffic      []domain.TrafficSegment
	TrafficTiles []domain.TrafficSegment
	EvHubs       []domain.EvHub
	Status       map[Name]Status
}

// Snapshot copies the current collections.
func (a *Aggregator) Snapshot() Dataset {
	return Dataset{
		AreaMoods:    a.moods.items(),
		Events:       a.events.items(),
		Community:    a.community.items(),
		Incidents:    a.incidents.items(),
		CivicIssues:  a.civic.items(),
		Traffic:      a.traffic.items(),
		TrafficTiles: a.trafficTiles.items(),
		EvHubs:       a.evHubs.items(),
		Status:       a.Statuses(),
	}
}

// Statuses reports every collection's status.
func (a *Aggregator) Statuses() map[Name]Status {
	return map[Name]Status{
		AreaMoods:    a.moods.snapshotStatus(),
		Events:       a.events.snapshotStatus(),
		Community:    a.community.snapshotStatus(),
		Incidents:    a.incidents.snapshotStatus(),
		CivicIssues:  a.civic.snapshotStatus(),
		Traffic:      a.traffic.snapshotStatus(),
		TrafficTiles: a.trafficTiles.snapshotStatus(),
		EvHubs:       a.evHubs.snapshotStatus(),
	}
}
