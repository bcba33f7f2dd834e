package mapstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Dispatch(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())

	s, err := store.Dispatch(SetMode{Mode: ModeEvents})
	require.NoError(t, err)
	assert.Equal(t, ModeEvents, s.Mode)

	_, err = store.Dispatch(SetMode{Mode: "bogus"})
	require.Error(t, err)

	current, err := store.State()
	require.NoError(t, err)
	assert.Equal(t, ModeEvents, current.Mode, "invalid action leaves state untouched")
}

func TestStore_ClosedRejectsLateResults(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())
	store.Close()

	_, err := store.Dispatch(SelectFeature{Selection: Selection{ID: "late"}})
	require.ErrorIs(t, err, ErrClosed)

	_, err = store.State()
	require.ErrorIs(t, err, ErrClosed)
}

func TestStore_ConcurrentToggles(t *testing.T) {
	store := NewStore(clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Dispatch(ToggleLayer{Layer: LayerEvents})
		}()
	}
	wg.Wait()

	s, err := store.State()
	require.NoError(t, err)
	assert.True(t, NewLayerSet(LayerTraffic).Equal(s.ActiveLayers()), "an even number of toggles is a no-op")
}

func TestSessions_Lifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessions := NewSessions(30*time.Minute, clock)

	var closed []string
	sessions.OnClose(func(id string) { closed = append(closed, id) })

	id, store := sessions.Create()
	require.NotEmpty(t, id)
	assert.Equal(t, 1, sessions.Len())

	got, ok := sessions.Get(id)
	require.True(t, ok)
	assert.Same(t, store, got)

	assert.True(t, sessions.Delete(id))
	assert.False(t, sessions.Delete(id))
	assert.Equal(t, []string{id}, closed)

	_, err := store.State()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessions_Expiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessions := NewSessions(time.Minute, clock)

	idle, _ := sessions.Create()
	active, activeStore := sessions.Create()

	clock.Advance(45 * time.Second)
	_, err := activeStore.State()
	require.NoError(t, err)
	clock.Advance(30 * time.Second)

	_, ok := sessions.Get(idle)
	assert.False(t, ok)
	_, ok = sessions.Get(active)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, sessions.Sweep())
	assert.Zero(t, sessions.Len())
}

func TestSessions_RunJanitor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sessions := NewSessions(time.Minute, clock)
	sessions.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sessions.RunJanitor(ctx, 10*time.Second)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
