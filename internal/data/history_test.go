package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/market"
	"metron-core/pkg/db"
)

type fetcherFunc func(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)

func (f fetcherFunc) FetchRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return f(ctx, symbol, interval, limit)
}

func minutes(start time.Time, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSDT", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1, BuyVolume: 1}
	}
	return out
}

func newHistory(t *testing.T, f Fetcher, now time.Time) (*History, *db.Database) {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := NewHistory(store, f, zerolog.Nop())
	h.now = func() time.Time { return now }
	return h, store
}

func TestWarmBackfillsEmptyStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	calls := 0
	h, _ := newHistory(t, fetcherFunc(func(_ context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
		calls++
		assert.Equal(t, "1m", interval)
		// last bar is the still-open minute
		return minutes(now.Add(-10*time.Minute).Truncate(time.Minute), 11), nil
	}), now)

	res, err := h.Warm(context.Background(), "btcusdt", 100, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Backfilled)
	assert.Equal(t, 1, calls)
	require.Len(t, res.Candles, 10)
	assert.True(t, res.Candles[9].OpenTime.Before(market.MinuteOf(now)))
}

func TestWarmSkipsFreshHistory(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h, store := newHistory(t, fetcherFunc(func(context.Context, string, string, int) ([]market.Candle, error) {
		t.Fatal("fresh history must not be backfilled")
		return nil, nil
	}), now)

	rows := []db.Candle{}
	for _, c := range minutes(now.Add(-3*time.Minute), 3) {
		rows = append(rows, c.Row())
	}
	require.NoError(t, store.SaveBulkCandles(context.Background(), rows))

	res, err := h.Warm(context.Background(), "BTCUSDT", 100, 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Backfilled)
	assert.Len(t, res.Candles, 3)
}

func TestWarmKeepsStaleHistoryWhenFetchFails(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h, store := newHistory(t, fetcherFunc(func(context.Context, string, string, int) ([]market.Candle, error) {
		return nil, errors.New("offline")
	}), now)

	rows := []db.Candle{}
	for _, c := range minutes(now.Add(-time.Hour), 2) {
		rows = append(rows, c.Row())
	}
	require.NoError(t, store.SaveBulkCandles(context.Background(), rows))

	res, err := h.Warm(context.Background(), "BTCUSDT", 100, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Len(t, res.Candles, 2)
}
