package aggregator

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/couchcryptid/city-pulse/internal/backend"
	"github.com/couchcryptid/city-pulse/internal/domain"
)

// Run keeps realtime subscriptions open for area moods and community
// reports until ctx is cancelled. A dead subscription marks its collection
// stale and is retried with exponential backoff; after resubscribing the
// collection is reloaded to pick up missed changes.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("realtime merge started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.follow(ctx, AreaMoods, backend.TableAreaMoods, func(ch backend.Change) {
			applyChange(ctx, a, a.moods, ch, func(_ context.Context, r backend.Row) (domain.AreaMood, error) {
				return decodeAreaMood(r)
			})
		})
	}()
	go func() {
		defer wg.Done()
		a.follow(ctx, Community, backend.TableCommunity, func(ch backend.Change) {
			applyChange(ctx, a, a.community, ch, func(ctx context.Context, r backend.Row) (domain.CommunityReport, error) {
				report, err := decodeCommunity(r)
				if err != nil {
					return report, err
				}
				return a.nameArea(ctx, report), nil
			})
		})
	}()
	wg.Wait()

	a.logger.Info("realtime merge stopping", "reason", ctx.Err())
	return nil
}

func (a *Aggregator) follow(ctx context.Context, name Name, table string, apply func(backend.Change)) {
	backoff := a.initialBackoff
	recovering := false

	for ctx.Err() == nil {
		sub, err := a.feed.Subscribe(ctx, table, apply)
		if errors.Is(err, backend.ErrRealtimeUnsupported) {
			a.logger.Info("realtime not available, collection will not update live", "collection", name)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Error("realtime subscribe failed", "collection", name, "error", err)
			a.markStale(name)
			if !a.backoffOrStop(ctx, name, &backoff) {
				return
			}
			recovering = true
			continue
		}

		a.logger.Info("realtime subscribed", "collection", name, "table", table)
		backoff = a.initialBackoff
		if recovering {
			a.reload(ctx, name)
			recovering = false
		}

		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			<-sub.Done()
			return
		case <-sub.Done():
		}
		if ctx.Err() != nil {
			return
		}

		a.logger.Warn("realtime subscription ended", "collection", name, "error", sub.Err())
		a.markStale(name)
		if !a.backoffOrStop(ctx, name, &backoff) {
			return
		}
		recovering = true
	}
}

func (a *Aggregator) markStale(name Name) {
	now := a.clock.Now()
	switch name {
	case AreaMoods:
		a.moods.setState(StateStale, "realtime subscription lost", now)
	case Community:
		a.community.setState(StateStale, "realtime subscription lost", now)
	}
	a.bus.Publish(Change{Collection: name, Action: "stale"})
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if ctx ended first.
func (a *Aggregator) backoffOrStop(ctx context.Context, name Name, backoff *time.Duration) bool {
	if !a.sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, a.maxBackoff)
	a.metrics.RealtimeReconnects.WithLabelValues(string(name)).Inc()
	return true
}

// applyChange merges one change into c. INSERT and UPDATE merge the new
// record over the stored row and upsert by id; DELETE removes by id.
func applyChange[T domain.Entity](ctx context.Context, a *Aggregator, c *collection[T], ch backend.Change, decode func(context.Context, backend.Row) (T, error)) {
	id := ch.Key()
	if id == "" {
		a.dropRow(c.name, ch.Record, errMissingID)
		return
	}
	a.metrics.RealtimeChanges.WithLabelValues(string(c.name), string(ch.Type)).Inc()
	now := a.clock.Now()

	switch ch.Type {
	case backend.ChangeDelete:
		if c.remove(id, now) {
			a.bus.Publish(Change{Collection: c.name, Action: "deleted", ID: id})
		}
	case backend.ChangeInsert, backend.ChangeUpdate:
		merged := c.row(id)
		if merged == nil {
			merged = backend.Row{}
		}
		maps.Copy(merged, ch.Record)

		item, err := decode(ctx, merged)
		if err != nil {
			a.dropRow(c.name, merged, err)
			return
		}
		action := "inserted"
		if c.upsert(entry[T]{item: item, row: merged}, now) {
			action = "updated"
		}
		a.bus.Publish(Change{Collection: c.name, Action: action, ID: id})
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (a *Aggregator) sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := a.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
