package aggregator

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

// Name identifies a collection.
type Name string

const (
	AreaMoods    Name = "area-moods"
	Events       Name = "events"
	Community    Name = "community-reports"
	Incidents    Name = "incidents"
	CivicIssues  Name = "civic-issues"
	Traffic      Name = "traffic"
	TrafficTiles Name = "traffic-tiles"
	EvHubs       Name = "ev-hubs"
)

// Names lists every collection in load order.
func Names() []Name {
	return []Name{AreaMoods, Events, Community, Incidents, CivicIssues, Traffic, TrafficTiles, EvHubs}
}

// State is a collection's load state.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateError    State = "error"
	StateStale    State = "stale"
	StateDisabled State = "disabled"
)

// Status describes one collection.
type Status struct {
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

type entry[T domain.Entity] struct {
	item T
	row  backend.Row // source row, nil for non-backend sources
}

// collection is an ordered set of entities keyed by id. Order is the
// source's order; realtime inserts go to the front.
//
// entries is stored newest-last (the reverse of display order) so a front
// insert is an append; index maps each id to its position in entries.
type collection[T domain.Entity] struct {
	name Name

	mu      sync.RWMutex
	entries []entry[T]
	index   map[string]int
	status  Status
}

func newCollection[T domain.Entity](name Name) *collection[T] {
	return &collection[T]{
		name:   name,
		index:  make(map[string]int),
		status: Status{State: StateLoading},
	}
}

// replace swaps in entries given in display order.
func (c *collection[T]) replace(entries []entry[T], at time.Time) {
	entries = dedupe(entries)
	slices.Reverse(entries)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.reindex(0)
	c.status = Status{State: StateReady, Count: len(c.entries), UpdatedAt: at}
}

// reindex rebuilds index positions from entries[from:].
func (c *collection[T]) reindex(from int) {
	if from == 0 {
		c.index = make(map[string]int, len(c.entries))
	}
	for i := from; i < len(c.entries); i++ {
		c.index[c.entries[i].item.Identity()] = i
	}
}

// dedupe keeps the first entry for each id.
func dedupe[T domain.Entity](entries []entry[T]) []entry[T] {
	seen := make(map[string]struct{}, len(entries))
	out := make([]entry[T], 0, len(entries))
	for _, e := range entries {
		id := e.item.Identity()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (c *collection[T]) setState(s State, msg string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.State = s
	c.status.Error = msg
	if !at.IsZero() {
		c.status.UpdatedAt = at
	}
}

func (c *collection[T]) find(id string) int {
	if i, ok := c.index[id]; ok {
		return i
	}
	return -1
}

// row returns a copy of the stored source row for id.
func (c *collection[T]) row(id string) backend.Row {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.find(id); i >= 0 {
		return maps.Clone(c.entries[i].row)
	}
	return nil
}

// upsert replaces the entry with the same id in place, or puts it at the
// front. It reports whether the id already existed.
func (c *collection[T]) upsert(e entry[T], at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := e.item.Identity()
	existed := false
	if i := c.find(id); i >= 0 {
		c.entries[i] = e
		existed = true
	} else {
		c.entries = append(c.entries, e)
		c.index[id] = len(c.entries) - 1
	}
	c.status.Count = len(c.entries)
	c.status.UpdatedAt = at
	return existed
}

func (c *collection[T]) remove(id string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(id)
	if i < 0 {
		return false
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	delete(c.index, id)
	c.reindex(i)
	c.status.Count = len(c.entries)
	c.status.UpdatedAt = at
	return true
}

// items returns the entities in display order.
func (c *collection[T]) items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.entries))
	for i, e := range c.entries {
		out[len(c.entries)-1-i] = e.item
	}
	return out
}

func (c *collection[T]) snapshotStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
