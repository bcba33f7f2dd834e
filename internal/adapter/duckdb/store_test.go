package duckdb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const moodsFixture = `[
  {"id": 1, "area": "T. Nagar", "sentiment": "happy", "description": "Festival crowd",
   "polygon": [[[80.23,13.04],[80.24,13.04],[80.24,13.05],[80.23,13.05],[80.23,13.04]]],
   "created_at": "2025-03-01T09:00:00Z"},
  {"id": 2, "area": "Anna Nagar", "sentiment": "super sad", "description": null,
   "polygon": null, "created_at": "2025-03-01T10:00:00Z"}
]`

const communityFixture = `[
  {"id": "6f1c2d3e-4a5b-4c6d-8e7f-8091a2b3c4d5", "title": "Streetlight out", "description": "Dark stretch",
   "area": "Adyar", "response": null, "lat": 13.0012, "lng": 80.2565, "created_at": "2025-03-01T08:00:00Z"}
]`

func openFixtures(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, backend.TableAreaMoods+".json"), []byte(moodsFixture), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, backend.TableCommunity+".json"), []byte(communityFixture), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	s, err := Open(context.Background(), dir, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_LoadsFixtures(t *testing.T) {
	s := openFixtures(t)
	assert.Equal(t, []string{backend.TableAreaMoods, backend.TableCommunity}, s.Tables())
}

func TestOpen_MissingDir(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), discardLogger())
	require.Error(t, err)
}

func TestOpen_BadFixture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600))
	_, err := Open(context.Background(), dir, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestStore_SelectOrdered(t *testing.T) {
	s := openFixtures(t)

	rows, err := s.Select(context.Background(), backend.Query{
		Table:      backend.TableAreaMoods,
		Columns:    []string{"id", "area", "sentiment", "polygon", "created_at"},
		OrderBy:    "created_at",
		Descending: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2", backend.RowID(rows[0]))
	assert.Equal(t, "Anna Nagar", rows[0]["area"])
	assert.Nil(t, rows[0]["polygon"])

	assert.Equal(t, "1", backend.RowID(rows[1]))
	assert.NotNil(t, rows[1]["polygon"])
	_, hasDescription := rows[1]["description"]
	assert.False(t, hasDescription, "only the selected columns are returned")

	switch ts := rows[1]["created_at"].(type) {
	case time.Time:
		assert.Equal(t, 2025, ts.Year())
	case string:
		assert.Contains(t, ts, "2025-03-01")
	default:
		t.Fatalf("unexpected created_at type %T", ts)
	}
}

func TestStore_SelectLimit(t *testing.T) {
	s := openFixtures(t)
	rows, err := s.Select(context.Background(), backend.Query{Table: backend.TableAreaMoods, OrderBy: "id", Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", backend.RowID(rows[0]))
}

func TestStore_SelectUUIDAsString(t *testing.T) {
	s := openFixtures(t)
	rows, err := s.Select(context.Background(), backend.Query{Table: backend.TableCommunity})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "6f1c2d3e-4a5b-4c6d-8e7f-8091a2b3c4d5", backend.RowID(rows[0]))
	assert.Equal(t, 13.0012, rows[0]["lat"])
}

func TestStore_SelectUnknownTable(t *testing.T) {
	s := openFixtures(t)
	_, err := s.Select(context.Background(), backend.Query{Table: "missing"})
	require.Error(t, err)
}

func TestStore_Insert(t *testing.T) {
	s := openFixtures(t)
	id := uuid.NewString()

	err := s.Insert(context.Background(), backend.TableCommunity, backend.Row{
		"id":          id,
		"title":       "Waterlogging",
		"description": "Knee deep",
		"area":        "Velachery",
		"lat":         12.9815,
		"lng":         80.2180,
		"created_at":  "2025-03-01T11:00:00Z",
	})
	require.NoError(t, err)

	rows, err := s.Select(context.Background(), backend.Query{Table: backend.TableCommunity, OrderBy: "created_at", Descending: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, id, backend.RowID(rows[0]))
	assert.Equal(t, "Velachery", rows[0]["area"])
}

func TestStore_InsertEmptyRow(t *testing.T) {
	s := openFixtures(t)
	require.Error(t, s.Insert(context.Background(), backend.TableCommunity, backend.Row{}))
}

func TestBuildSelect(t *testing.T) {
	got := buildSelect(backend.Query{Table: `odd"name`, Columns: []string{"id"}, OrderBy: "created_at", Descending: true, Limit: 5})
	assert.Equal(t, `SELECT "id" FROM "odd""name" ORDER BY "created_at" DESC LIMIT 5`, got)
}

func TestNormalizeValue(t *testing.T) {
	id := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-8091a2b3c4d5")
	assert.Equal(t, id.String(), normalizeValue([16]byte(id)))
	assert.Equal(t, id.String(), normalizeValue(id[:]))
	assert.Equal(t, "abc", normalizeValue([]byte("abc")))

	nested := normalizeValue(map[string]any{"inner": []any{[16]byte(id)}})
	assert.Equal(t, map[string]any{"inner": []any{id.String()}}, nested)
}
