// Package data loads candle history for the live engine and the backtester,
// preferring the local store and falling back to the exchange.
package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/market"
	"metron-core/pkg/db"
)

// Store is the candle half of db.Store.
type Store interface {
	GetRecentCandles(ctx context.Context, symbol string, limit int) ([]db.Candle, error)
	SaveBulkCandles(ctx context.Context, candles []db.Candle) error
}

// Fetcher is the candle half of gateway.Gateway.
type Fetcher interface {
	FetchRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// History fetches 1-minute candles.
type History struct {
	store   Store
	fetcher Fetcher
	logger  zerolog.Logger
	now     func() time.Time
}

func NewHistory(store Store, fetcher Fetcher, logger zerolog.Logger) *History {
	return &History{
		store:   store,
		fetcher: fetcher,
		logger:  logger.With().Str("component", "history").Logger(),
		now:     time.Now,
	}
}

// Recent returns up to limit stored candles in ascending order.
func (h *History) Recent(ctx context.Context, symbol string, limit int) ([]market.Candle, error) {
	rows, err := h.store.GetRecentCandles(ctx, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[i] = market.FromRow(r)
	}
	return out, nil
}

// Fetch downloads the last limit closed 1-minute candles from the exchange.
// The still-forming minute is discarded. When persist is set the candles are
// written to the store.
func (h *History) Fetch(ctx context.Context, symbol string, limit int, persist bool) ([]market.Candle, error) {
	if h.fetcher == nil {
		return nil, fmt.Errorf("fetch %s: no exchange configured", symbol)
	}
	candles, err := h.fetcher.FetchRecentCandles(ctx, strings.ToUpper(symbol), "1m", limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", symbol, err)
	}
	current := market.MinuteOf(h.now())
	closed := candles[:0]
	for _, c := range candles {
		if c.OpenTime.Before(current) {
			closed = append(closed, c)
		}
	}
	if persist && len(closed) > 0 {
		rows := make([]db.Candle, len(closed))
		for i, c := range closed {
			rows[i] = c.Row()
		}
		if err := h.store.SaveBulkCandles(ctx, rows); err != nil {
			return closed, fmt.Errorf("persist backfill: %w", err)
		}
	}
	return closed, nil
}

// WarmResult describes a cold start.
type WarmResult struct {
	Candles    []market.Candle
	Backfilled bool
	Stale      bool
}

// Warm loads the last limit stored candles. When none exist, or the newest is
// older than freshness, it backfills from the exchange, persists the result
// and reloads. A failed backfill keeps whatever the store had and marks it
// stale.
func (h *History) Warm(ctx context.Context, symbol string, limit int, freshness time.Duration) (WarmResult, error) {
	stored, err := h.Recent(ctx, symbol, limit)
	if err != nil {
		return WarmResult{}, err
	}
	if len(stored) > 0 && h.now().Sub(stored[len(stored)-1].OpenTime) <= freshness {
		h.logger.Info().Int("candles", len(stored)).Msg("history is fresh, skipping backfill")
		return WarmResult{Candles: stored}, nil
	}

	h.logger.Info().Int("stored", len(stored)).Int("limit", limit).Msg("history missing or stale, backfilling")
	if _, err := h.Fetch(ctx, symbol, limit, true); err != nil {
		h.logger.Warn().Err(err).Msg("backfill failed, continuing with stored history")
		return WarmResult{Candles: stored, Stale: true}, nil
	}
	reloaded, err := h.Recent(ctx, symbol, limit)
	if err != nil {
		return WarmResult{}, err
	}
	return WarmResult{Candles: reloaded, Backfilled: true}, nil
}
