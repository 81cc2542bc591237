package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/dex/dextest"
)

func newTestStore(t *testing.T, ids ...dex.EdgeID) *Store {
	t.Helper()
	s := NewStore()
	for _, id := range ids {
		require.NoError(t, s.Track(id))
	}
	s.Seal()
	return s
}

func TestStore(t *testing.T) {
	id := dex.EdgeID{Key: dextest.Key('p', 1), InputMint: dextest.Key('m', 1)}

	t.Run("Get_NeverLoadedIsAbsent", func(t *testing.T) {
		s := newTestStore(t, id)
		_, ok := s.Get(id)
		assert.False(t, ok)
	})

	t.Run("Replace_UnknownEdge", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Replace(id, "x", 1)
		assert.ErrorIs(t, err, ErrUnknownEdge)
	})

	t.Run("Track_AfterSealFails", func(t *testing.T) {
		s := newTestStore(t)
		assert.ErrorIs(t, s.Track(id), ErrTracking)
	})

	t.Run("Replace_OutOfOrderIsNoOp", func(t *testing.T) {
		s := newTestStore(t, id)

		applied, err := s.Replace(id, "at-100", 100)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.Replace(id, "at-99", 99)
		require.NoError(t, err)
		assert.False(t, applied, "an older slot must be dropped")

		e, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, "at-100", e.State)
		assert.Equal(t, uint64(100), e.Slot)
	})

	t.Run("Replace_SameSlotWins", func(t *testing.T) {
		s := newTestStore(t, id)
		_, _ = s.Replace(id, "first", 7)
		applied, _ := s.Replace(id, "second", 7)
		assert.True(t, applied)
		e, _ := s.Get(id)
		assert.Equal(t, "second", e.State)
	})

	t.Run("Invalidate_HidesEdgeAndKeepsSlot", func(t *testing.T) {
		s := newTestStore(t, id)
		_, _ = s.Replace(id, "ok", 10)

		applied, err := s.Invalidate(id, 11)
		require.NoError(t, err)
		assert.True(t, applied)

		_, ok := s.Get(id)
		assert.False(t, ok)

		raw, ok := s.Load(id)
		require.True(t, ok)
		assert.Nil(t, raw.State)
		assert.Equal(t, uint64(11), raw.Slot)

		applied, _ = s.Replace(id, "stale", 10)
		assert.False(t, applied, "a tombstone still orders later updates")
	})

	t.Run("Cooldown_HidesUntilExpiryOrReplace", func(t *testing.T) {
		s := newTestStore(t, id)
		now := time.Unix(1_700_000_000, 0)
		s.now = func() time.Time { return now }

		_, _ = s.Replace(id, "ok", 5)
		require.NoError(t, s.Cooldown(id, now.Add(time.Minute)))

		_, ok := s.Get(id)
		assert.False(t, ok)
		assert.Equal(t, 1, s.Stats().CoolingDown)

		now = now.Add(2 * time.Minute)
		_, ok = s.Get(id)
		assert.True(t, ok, "cooldown expired")

		require.NoError(t, s.Cooldown(id, now.Add(time.Minute)))
		_, _ = s.Replace(id, "fresh", 6)
		e, ok := s.Get(id)
		require.True(t, ok, "a new update clears the cooldown")
		assert.Equal(t, "fresh", e.State)
	})

	t.Run("Stats", func(t *testing.T) {
		other := dex.EdgeID{Key: dextest.Key('p', 2), InputMint: dextest.Key('m', 1)}
		third := dex.EdgeID{Key: dextest.Key('p', 3), InputMint: dextest.Key('m', 1)}
		s := newTestStore(t, id, other, third)
		_, _ = s.Replace(id, "ok", 1)
		_, _ = s.Invalidate(other, 1)

		assert.Equal(t, Stats{Tracked: 3, Live: 1, Invalid: 1, NeverLoaded: 1}, s.Stats())
	})

	t.Run("ConcurrentWritersConvergeOnNewestSlot", func(t *testing.T) {
		s := newTestStore(t, id)

		var wg sync.WaitGroup
		for slot := uint64(1); slot <= 200; slot++ {
			wg.Add(1)
			go func(slot uint64) {
				defer wg.Done()
				_, _ = s.Replace(id, slot, slot)
			}(slot)
		}

		var readers sync.WaitGroup
		for range 8 {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for range 100 {
					if e, ok := s.Get(id); ok {
						assert.Equal(t, e.Slot, e.State.(uint64))
					}
				}
			}()
		}
		wg.Wait()
		readers.Wait()

		e, ok := s.Get(id)
		require.True(t, ok)
		assert.Equal(t, uint64(200), e.Slot)
	})
}
