package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name string
		q    backend.Query
		want string
	}{
		{
			name: "all columns",
			q:    backend.Query{Table: "incidents"},
			want: `SELECT * FROM "incidents"`,
		},
		{
			name: "columns ordered and limited",
			q: backend.Query{
				Table:      backend.TableAreaMoods,
				Columns:    []string{"id", "area", "created_at"},
				OrderBy:    "created_at",
				Descending: true,
				Limit:      20,
			},
			want: `SELECT "id", "area", "created_at" FROM "city-one-table" ORDER BY "created_at" DESC LIMIT 20`,
		},
		{
			name: "identifier quoting",
			q:    backend.Query{Table: `we"ird`, OrderBy: "timestamp"},
			want: `SELECT * FROM "we""ird" ORDER BY "timestamp"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildSelect(tt.q))
		})
	}
}

func TestBuildInsert(t *testing.T) {
	sql, args, err := buildInsert(backend.TableCommunity, backend.Row{
		"title": "Broken signal",
		"lat":   13.05,
		"area":  "Guindy",
	})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "city-one-community" ("area", "lat", "title") VALUES ($1, $2, $3)`, sql)
	assert.Equal(t, []any{"Guindy", 13.05, "Broken signal"}, args)

	_, _, err = buildInsert(backend.TableCommunity, backend.Row{})
	require.Error(t, err)
	_, _, err = buildInsert(" ", backend.Row{"a": 1})
	require.Error(t, err)
}

func TestNormalizeValue(t *testing.T) {
	id := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-8091a2b3c4d5")
	assert.Equal(t, id.String(), normalizeValue([16]byte(id)))

	n := pgtype.Numeric{Int: big.NewInt(1305), Exp: -2, Valid: true}
	assert.Equal(t, 13.05, normalizeValue(n))
	assert.Nil(t, normalizeValue(pgtype.Numeric{}))

	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, normalizeValue(ts))
	assert.Equal(t, "plain", normalizeValue("plain"))
}

// fakeListener replays notifications, then blocks until the context ends
// or fail is closed.
type fakeListener struct {
	notes  chan *pgconn.Notification
	fail   chan error
	closed chan struct{}
}

func newFakeListener(notes ...*pgconn.Notification) *fakeListener {
	l := &fakeListener{
		notes:  make(chan *pgconn.Notification, len(notes)),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	for _, n := range notes {
		l.notes <- n
	}
	return l
}

func (l *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-l.notes:
		return n, nil
	default:
	}
	select {
	case n := <-l.notes:
		return n, nil
	case err := <-l.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *fakeListener) Close(context.Context) error {
	close(l.closed)
	return nil
}

func testFeed(l listener) *Feed {
	return &Feed{
		connect: func(context.Context) (listener, error) { return l, nil },
		logger:  discardLogger(),
	}
}

func TestFeed_FiltersByTable(t *testing.T) {
	l := newFakeListener(
		&pgconn.Notification{Channel: ChangesChannel, Payload: `{"type":"INSERT","table":"city-one-table","record":{"id":1,"sentiment":"happy"}}`},
		&pgconn.Notification{Channel: ChangesChannel, Payload: `{"type":"INSERT","table":"city-one-community","record":{"id":2}}`},
		&pgconn.Notification{Channel: "other_channel", Payload: `{"type":"INSERT","table":"city-one-table","record":{"id":3}}`},
		&pgconn.Notification{Channel: ChangesChannel, Payload: `not json`},
		&pgconn.Notification{Channel: ChangesChannel, Payload: `{"type":"delete","table":"city-one-table","old_record":{"id":1}}`},
	)

	got := make(chan backend.Change, 5)
	sub, err := testFeed(l).Subscribe(context.Background(), backend.TableAreaMoods, func(c backend.Change) { got <- c })
	require.NoError(t, err)

	first := <-got
	assert.Equal(t, backend.ChangeInsert, first.Type)
	assert.Equal(t, "1", first.Key())

	second := <-got
	assert.Equal(t, backend.ChangeDelete, second.Type)
	assert.Equal(t, "1", second.Key())

	sub.Unsubscribe()
	<-sub.Done()
	assert.NoError(t, sub.Err())
	<-l.closed
	assert.Empty(t, got)
}

func TestFeed_ConnectionLossEndsSubscription(t *testing.T) {
	l := newFakeListener()
	sub, err := testFeed(l).Subscribe(context.Background(), backend.TableCommunity, func(backend.Change) {})
	require.NoError(t, err)

	l.fail <- errors.New("conn reset")

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end")
	}
	require.Error(t, sub.Err())
	assert.Contains(t, sub.Err().Error(), "conn reset")
}

func TestFeed_ConnectError(t *testing.T) {
	f := &Feed{
		connect: func(context.Context) (listener, error) { return nil, errors.New("refused") },
		logger:  discardLogger(),
	}
	_, err := f.Subscribe(context.Background(), backend.TableCommunity, func(backend.Change) {})
	require.Error(t, err)
}
