package history

import (
	"sync"
	"testing"
	"time"

	"SignalDesk/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func point(sym string, price float64, offset int) models.PricePoint {
	return models.PricePoint{Symbol: sym, Price: price, Timestamp: t0.Add(time.Duration(offset) * time.Second)}
}

func TestAppendNormalizesAndBounds(t *testing.T) {
	h := New(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Append(point(" btcusdt ", float64(100+i), i)))
	}

	snap := h.Snapshot("BTCUSDT")
	require.Len(t, snap, 3)
	assert.Equal(t, []float64{102, 103, 104}, Closes(snap))
	assert.Equal(t, "BTCUSDT", snap[0].Symbol)
	assert.Equal(t, []string{"BTCUSDT"}, h.Symbols())
}

func TestAppendRejectsStaleAndInvalid(t *testing.T) {
	h := New(10)
	require.NoError(t, h.Append(point("ETHUSDT", 10, 5)))
	require.NoError(t, h.Append(point("ETHUSDT", 11, 5)))

	err := h.Append(point("ETHUSDT", 12, 4))
	assert.ErrorIs(t, err, models.ErrStaleTick)
	assert.ErrorIs(t, h.Append(point("ETHUSDT", 0, 6)), models.ErrInvalidPrice)
	assert.ErrorIs(t, h.Append(point("  ", 1, 6)), models.ErrUnknownSymbol)
	assert.Equal(t, 2, h.Len("ethusdt"))
}

func TestSnapshotIsACopy(t *testing.T) {
	h := New(10)
	require.NoError(t, h.Append(point("BTCUSDT", 1, 0)))
	snap := h.Snapshot("BTCUSDT")
	snap[0].Price = 999

	latest, ok := h.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.Price)
}

func TestSeedSortsAndSkips(t *testing.T) {
	h := New(10)
	kept := h.Seed("solusdt", []models.PricePoint{
		point("", 3, 3), point("", 1, 1), point("", -1, 2), point("", 2, 2),
	})
	assert.Equal(t, 3, kept)
	assert.Equal(t, []float64{1, 2, 3}, Closes(h.Snapshot("SOLUSDT")))

	h.Remove("SOLUSDT")
	assert.Zero(t, h.Len("SOLUSDT"))
	_, ok := h.Latest("SOLUSDT")
	assert.False(t, ok)
}

func TestConcurrentSymbols(t *testing.T) {
	h := New(50)
	var wg sync.WaitGroup
	for _, sym := range []string{"A1", "B1", "C1", "D1"} {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = h.Append(point(sym, float64(i+1), i))
				_ = h.Snapshot(sym)
			}
		}(sym)
	}
	wg.Wait()
	for _, sym := range []string{"A1", "B1", "C1", "D1"} {
		assert.Equal(t, 50, h.Len(sym))
	}
}
