package aggregator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu      sync.Mutex
	rows    map[string][]backend.Row
	errs    map[string]error
	block   map[string]bool
	queries []backend.Query
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string][]backend.Row{}, errs: map[string]error{}, block: map[string]bool{}}
}

func (s *fakeStore) Select(ctx context.Context, q backend.Query) ([]backend.Row, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	rows, err, block := s.rows[q.Table], s.errs[q.Table], s.block[q.Table]
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	out := make([]backend.Row, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *fakeStore) Insert(_ context.Context, table string, row backend.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], row)
	return nil
}

func (s *fakeStore) set(table string, rows ...backend.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = rows
}

func (s *fakeStore) query(table string) (backend.Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queries {
		if q.Table == table {
			return q, true
		}
	}
	return backend.Query{}, false
}

type fakeSub struct {
	*backend.BaseSubscription
	table string
	fn    func(backend.Change)
}

type fakeFeed struct {
	mu          sync.Mutex
	subs        []*fakeSub
	subscribed  chan *fakeSub
	unsupported bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(chan *fakeSub, 16)}
}

func (f *fakeFeed) Subscribe(_ context.Context, table string, fn func(backend.Change)) (backend.Subscription, error) {
	if f.unsupported {
		return nil, backend.ErrRealtimeUnsupported
	}
	sub := &fakeSub{BaseSubscription: backend.NewBaseSubscription(), table: table, fn: fn}
	go func() {
		<-sub.Stopping()
		sub.Finish(nil)
	}()
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	f.subscribed <- sub
	return sub, nil
}

// waitSub waits for the next subscription to table.
func (f *fakeFeed) waitSub(t *testing.T, table string) *fakeSub {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-f.subscribed:
			if s.table == table {
				return s
			}
		case <-deadline:
			require.FailNow(t, "no subscription", "table %s", table)
			return nil
		}
	}
}

type stubGeocoder struct {
	place string
}

func (g stubGeocoder) ForwardGeocode(context.Context, string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{}, nil
}

func (g stubGeocoder) ReverseGeocode(context.Context, float64, float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{PlaceName: g.place}, nil
}

type stubHubs struct {
	hubs []domain.EvHub
	err  error
}

func (s stubHubs) FetchHubs(context.Context) ([]domain.EvHub, error) { return s.hubs, s.err }

func newTestAggregator(store backend.Store, feed backend.ChangeFeed) (*Aggregator, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return New(Deps{
		Store:          store,
		Feed:           feed,
		FetchTimeout:   time.Second,
		Logger:         discardLogger(),
		Metrics:        metrics,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}), metrics
}

// waitChange reads bus changes until one matches.
func waitChange(t *testing.T, ch chan Change, want Change) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			require.FailNow(t, "change not published", "%+v", want)
		}
	}
}
