package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

func startRealtime(t *testing.T, agg *Aggregator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, agg.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRun_MergesChangesInOrder(t *testing.T) {
	store := seededStore()
	feed := newFakeFeed()
	agg, metrics := newTestAggregator(store, feed)
	require.NoError(t, agg.Load(context.Background()))

	changes := agg.Changes().Subscribe()
	defer agg.Changes().Unsubscribe(changes)

	startRealtime(t, agg)
	sub := feed.waitSub(t, backend.TableAreaMoods)

	sub.fn(backend.Change{Type: backend.ChangeInsert, Table: backend.TableAreaMoods,
		Record: backend.Row{"id": "m3", "area": "Adyar", "sentiment": "calm"}})
	waitChange(t, changes, Change{Collection: AreaMoods, Action: "inserted", ID: "m3"})

	// An update carrying only the changed column keeps the rest of the row.
	sub.fn(backend.Change{Type: backend.ChangeUpdate, Table: backend.TableAreaMoods,
		Record: backend.Row{"id": "m1", "sentiment": "angry"}})
	waitChange(t, changes, Change{Collection: AreaMoods, Action: "updated", ID: "m1"})

	// Deletes usually only carry the old record.
	sub.fn(backend.Change{Type: backend.ChangeDelete, Table: backend.TableAreaMoods,
		OldRecord: backend.Row{"id": "m2"}})
	waitChange(t, changes, Change{Collection: AreaMoods, Action: "deleted", ID: "m2"})

	moods := agg.Snapshot().AreaMoods
	require.Len(t, moods, 2)
	assert.Equal(t, "m3", moods[0].ID, "inserts go first")
	assert.Equal(t, "m1", moods[1].ID)
	assert.Equal(t, "angry", moods[1].Sentiment)
	assert.Equal(t, "T. Nagar", moods[1].Area)
	assert.NotEmpty(t, moods[1].Polygon)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RealtimeChanges.WithLabelValues(string(AreaMoods), "UPDATE")), 0)
	assert.Equal(t, 2, agg.Statuses()[AreaMoods].Count)
}

func TestRun_LastWriteWins(t *testing.T) {
	feed := newFakeFeed()
	agg, _ := newTestAggregator(seededStore(), feed)
	require.NoError(t, agg.Load(context.Background()))
	changes := agg.Changes().Subscribe()
	defer agg.Changes().Unsubscribe(changes)

	startRealtime(t, agg)
	sub := feed.waitSub(t, backend.TableCommunity)

	for _, title := range []string{"first", "second", "third"} {
		sub.fn(backend.Change{Type: backend.ChangeUpdate, Table: backend.TableCommunity,
			Record: backend.Row{"id": "cr1", "title": title}})
	}
	waitChange(t, changes, Change{Collection: Community, Action: "updated", ID: "cr1"})

	reports := agg.Snapshot().Community
	require.Len(t, reports, 1)
	assert.Equal(t, "third", reports[0].Title)
	assert.True(t, reports[0].HasLocation(), "merged row keeps coordinates")
}

func TestRun_DropsUndecodableChanges(t *testing.T) {
	feed := newFakeFeed()
	agg, metrics := newTestAggregator(seededStore(), feed)
	require.NoError(t, agg.Load(context.Background()))
	startRealtime(t, agg)
	sub := feed.waitSub(t, backend.TableAreaMoods)

	sub.fn(backend.Change{Type: backend.ChangeInsert, Table: backend.TableAreaMoods, Record: backend.Row{"area": "no id"}})
	assert.Len(t, agg.Snapshot().AreaMoods, 2)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RecordsDropped.WithLabelValues(string(AreaMoods))), 0)
}

func TestRun_ResubscribesAfterFailure(t *testing.T) {
	store := seededStore()
	feed := newFakeFeed()
	agg, metrics := newTestAggregator(store, feed)
	require.NoError(t, agg.Load(context.Background()))
	changes := agg.Changes().Subscribe()
	defer agg.Changes().Unsubscribe(changes)

	startRealtime(t, agg)
	first := feed.waitSub(t, backend.TableAreaMoods)

	// The backend gained a row while the feed was down.
	store.set(backend.TableAreaMoods, backend.Row{"id": "m9", "area": "Velachery", "sentiment": "calm"})
	first.Finish(errors.New("socket closed"))

	waitChange(t, changes, Change{Collection: AreaMoods, Action: "stale"})
	feed.waitSub(t, backend.TableAreaMoods)
	waitChange(t, changes, Change{Collection: AreaMoods, Action: "reloaded"})

	st := agg.Statuses()[AreaMoods]
	assert.Equal(t, StateReady, st.State)
	moods := agg.Snapshot().AreaMoods
	require.Len(t, moods, 1)
	assert.Equal(t, "m9", moods[0].ID)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RealtimeReconnects.WithLabelValues(string(AreaMoods))), 0)
}

func TestRun_StaleKeepsSnapshot(t *testing.T) {
	feed := newFakeFeed()
	agg, _ := newTestAggregator(seededStore(), feed)
	agg.initialBackoff = time.Hour
	agg.maxBackoff = time.Hour
	require.NoError(t, agg.Load(context.Background()))
	changes := agg.Changes().Subscribe()
	defer agg.Changes().Unsubscribe(changes)

	startRealtime(t, agg)
	sub := feed.waitSub(t, backend.TableCommunity)
	sub.Finish(errors.New("socket closed"))
	waitChange(t, changes, Change{Collection: Community, Action: "stale"})

	st := agg.Statuses()[Community]
	assert.Equal(t, StateStale, st.State)
	assert.Len(t, agg.Snapshot().Community, 1)
}

func TestRun_RealtimeUnsupported(t *testing.T) {
	feed := newFakeFeed()
	feed.unsupported = true
	agg, _ := newTestAggregator(seededStore(), feed)

	done := make(chan error, 1)
	go func() { done <- agg.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return for a feed without realtime")
	}
}

func TestRun_CommunityInsertNamesArea(t *testing.T) {
	feed := newFakeFeed()
	agg := New(Deps{
		Store:          seededStore(),
		Feed:           feed,
		Geocoder:       stubGeocoder{place: "Mylapore"},
		Logger:         discardLogger(),
		InitialBackoff: time.Millisecond,
	})
	changes := agg.Changes().Subscribe()
	defer agg.Changes().Unsubscribe(changes)
	startRealtime(t, agg)
	sub := feed.waitSub(t, backend.TableCommunity)

	sub.fn(backend.Change{Type: backend.ChangeInsert, Table: backend.TableCommunity,
		Record: backend.Row{"id": "cr2", "title": "Garbage pile", "lat": 13.03, "lng": 80.27}})
	waitChange(t, changes, Change{Collection: Community, Action: "inserted", ID: "cr2"})

	var got domain.CommunityReport
	for _, r := range agg.Snapshot().Community {
		if r.ID == "cr2" {
			got = r
		}
	}
	assert.Equal(t, "Mylapore", got.Area)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 400*time.Millisecond, nextBackoff(200*time.Millisecond, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(4*time.Second, 5*time.Second))
	assert.Equal(t, 5*time.Second, nextBackoff(5*time.Second, 5*time.Second))
}
