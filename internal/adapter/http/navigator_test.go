package http

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/city-pulse/internal/domain"
	"github.com/couchcryptid/city-pulse/internal/mapstate"
)

type nopGeocoder struct{ domain.Geocoder }

func navigators(h *Handler) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.navigators)
}

func TestNavigatorFollowsSessionLifetime(t *testing.T) {
	sessions := mapstate.NewSessions(time.Hour, clockwork.NewFakeClock())
	h := NewHandler(Deps{
		Sessions: sessions,
		Geocoder: nopGeocoder{},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	t.Run("created once per live session", func(t *testing.T) {
		id, store := sessions.Create()
		first, err := h.navigator(id, store)
		require.NoError(t, err)
		again, err := h.navigator(id, store)
		require.NoError(t, err)
		assert.Same(t, first, again)

		require.True(t, sessions.Delete(id))
		assert.Zero(t, navigators(h))
	})

	t.Run("not recreated after the session closed", func(t *testing.T) {
		id, store := sessions.Create()
		// The handler looked the store up, then the session was deleted
		// before the navigator was requested.
		require.True(t, sessions.Delete(id))

		n, err := h.navigator(id, store)
		require.ErrorIs(t, err, mapstate.ErrClosed)
		assert.Nil(t, n)
		assert.Zero(t, navigators(h))
	})
}
