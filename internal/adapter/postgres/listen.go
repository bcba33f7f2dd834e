package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/couchcryptid/city-pulse/internal/backend"
)

// listener is the part of *pgx.Conn the feed uses.
type listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Feed implements backend.ChangeFeed with LISTEN on ChangesChannel. Each
// subscription holds a dedicated connection outside the pool.
type Feed struct {
	connect func(ctx context.Context) (listener, error)
	logger  *slog.Logger
}

// NewFeed creates a change feed on databaseURL.
func NewFeed(databaseURL string, logger *slog.Logger) *Feed {
	return &Feed{
		connect: func(ctx context.Context) (listener, error) {
			conn, err := pgx.Connect(ctx, databaseURL)
			if err != nil {
				return nil, fmt.Errorf("connect listener: %w", err)
			}
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ChangesChannel}.Sanitize()); err != nil {
				_ = conn.Close(context.Background())
				return nil, fmt.Errorf("listen %s: %w", ChangesChannel, err)
			}
			return conn, nil
		},
		logger: logger,
	}
}

func (f *Feed) Subscribe(ctx context.Context, table string, fn func(backend.Change)) (backend.Subscription, error) {
	conn, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	sub := backend.NewBaseSubscription()

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sub.Stopping():
			cancel()
		case <-loopCtx.Done():
		}
	}()
	go func() {
		defer cancel()
		err := f.listen(loopCtx, conn, table, fn)
		_ = conn.Close(context.Background())
		sub.Finish(err)
	}()

	f.logger.Info("postgres change feed listening", "table", table, "channel", ChangesChannel)
	return sub, nil
}

func (f *Feed) listen(ctx context.Context, conn listener, table string, fn func(backend.Change)) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		if n.Channel != ChangesChannel {
			continue
		}
		change, err := backend.DecodeChange([]byte(n.Payload))
		if err != nil {
			f.logger.Warn("undecodable notification, skipping", "error", err)
			continue
		}
		if change.Table != table {
			continue
		}
		fn(change)
	}
}

var (
	_ backend.ChangeFeed = (*Feed)(nil)
	_ backend.Store      = (*Store)(nil)
)
