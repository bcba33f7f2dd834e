package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

func withFixtureClock(t *testing.T) {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(fixtureTime))
	t.Cleanup(func() { domain.SetClock(nil) })
}

func TestGenerateIsDeterministic(t *testing.T) {
	withFixtureClock(t)

	a := generate(7, 10)
	b := generate(7, 10)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different fixtures (-first +second):\n%s", diff)
	}

	c := generate(8, 10)
	assert.NotEqual(t, a[backend.TableIncidents][0]["id"], c[backend.TableIncidents][0]["id"])
}

func TestGenerateCoversEveryTable(t *testing.T) {
	withFixtureClock(t)

	tables := generate(42, 12)
	for _, table := range []string{
		backend.TableAreaMoods, backend.TableEvents, backend.TableCommunity,
		backend.TableIncidents, backend.TableCivicIssues, backend.TableTraffic,
	} {
		assert.NotEmpty(t, tables[table], table)
	}
	assert.Len(t, tables[backend.TableIncidents], 12)
	assert.Len(t, tables[backend.TableCivicIssues], 6)
}

func TestGeneratedRowsDecode(t *testing.T) {
	withFixtureClock(t)
	tables := generate(42, 12)

	// Round-trip through JSON so values look like what a driver returns.
	data, err := json.Marshal(tables)
	require.NoError(t, err)
	var decoded map[string][]backend.Row
	require.NoError(t, json.Unmarshal(data, &decoded))

	for _, r := range decoded[backend.TableAreaMoods] {
		_, err := domain.NormalizeGeometry(r["polygon"], domain.GeometryPolygon)
		assert.NoError(t, err, "area %v", r["area"])
	}
	for _, r := range decoded[backend.TableIncidents] {
		_, err := domain.NormalizeGeometry(r["location"], domain.GeometryPoint)
		assert.NoError(t, err)

		ts, err := time.Parse(time.RFC3339, r["timestamp"].(string))
		require.NoError(t, err)
		assert.False(t, ts.After(fixtureTime))
		assert.Less(t, fixtureTime.Sub(ts), time.Hour+time.Second)
	}
	for _, r := range decoded[backend.TableCivicIssues] {
		_, err := domain.NormalizeGeometry(r["location"], domain.GeometryPoint)
		assert.NoError(t, err)
		_, ok := domain.ParseCivicCategory(r["category"].(string))
		assert.True(t, ok)
		_, ok = domain.ParseCivicStatus(r["status"].(string))
		assert.True(t, ok)
	}
	for _, r := range decoded[backend.TableTraffic] {
		_, err := domain.NormalizeGeometry(r["coordinates"], domain.GeometryLineString)
		assert.NoError(t, err)
	}
}

func TestInsertChangesAreOrderedByTable(t *testing.T) {
	changes := insertChanges(map[string][]backend.Row{
		"traffic":   {{"road_id": "omr"}},
		"incidents": {{"id": "a"}, {"id": "b"}},
	})

	require.Len(t, changes, 3)
	assert.Equal(t, "incidents", changes[0].Table)
	assert.Equal(t, "b", changes[1].Record["id"])
	assert.Equal(t, "traffic", changes[2].Table)
	for _, c := range changes {
		assert.Equal(t, backend.ChangeInsert, c.Type)
	}
}
