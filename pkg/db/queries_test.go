package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCandlesUpsertAndOrder(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var batch []Candle
	for i := 0; i < 5; i++ {
		batch = append(batch, Candle{
			Time: base.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSDT",
			Open: 100, High: 101, Low: 99, Close: 100 + float64(i), Volume: 2, BuyVolume: 2,
		})
	}
	if err := database.SaveBulkCandles(ctx, batch); err != nil {
		t.Fatalf("SaveBulkCandles: %v", err)
	}

	// Same (time, symbol) replaces the row instead of duplicating it.
	updated := batch[4]
	updated.Close = 200
	if err := database.SaveCandle(ctx, updated); err != nil {
		t.Fatalf("SaveCandle: %v", err)
	}

	got, err := database.GetRecentCandles(ctx, "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("GetRecentCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Time.After(got[i-1].Time) {
			t.Fatalf("candles not ascending at %d", i)
		}
	}
	if got[2].Close != 200 {
		t.Errorf("expected upserted close 200, got %v", got[2].Close)
	}
	if !got[0].Time.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("expected oldest of the newest three, got %v", got[0].Time)
	}

	other, err := database.GetRecentCandles(ctx, "ETHUSDT", 10)
	if err != nil {
		t.Fatalf("GetRecentCandles other symbol: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no ETHUSDT candles, got %d", len(other))
	}
}

func TestSaveTradeIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	trade := Trade{
		OrderID: "PAPER-1", Symbol: "BTCUSDT", Side: "BUY", Price: 50000, Amount: 0.0004,
		Notional: 20, Status: TradeStatusFilled, Strategy: "Balanced", Mode: "PAPER",
		Timestamp: time.Now(),
	}
	if err := database.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}
	changed := trade
	changed.Price = 1
	if err := database.SaveTrade(ctx, changed); err != nil {
		t.Fatalf("SaveTrade duplicate: %v", err)
	}

	open, err := database.GetOpenTrades(ctx)
	if err != nil {
		t.Fatalf("GetOpenTrades: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", len(open))
	}
	if open[0].Price != 50000 {
		t.Errorf("duplicate insert must not overwrite, got price %v", open[0].Price)
	}

	if err := database.UpdateTradeStatus(ctx, "PAPER-1", TradeStatusClosed); err != nil {
		t.Fatalf("UpdateTradeStatus: %v", err)
	}
	open, _ = database.GetOpenTrades(ctx)
	if len(open) != 0 {
		t.Errorf("closed trade still reported open")
	}
	if err := database.UpdateTradeStatus(ctx, "missing", TradeStatusClosed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	all, err := database.GetTrades(ctx, 10)
	if err != nil || len(all) != 1 {
		t.Fatalf("GetTrades: %v (%d rows)", err, len(all))
	}
}

func TestSettings(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	if _, err := database.GetSetting(ctx, "strategy"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := database.SetSetting(ctx, "strategy", "Aggressive"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := database.SetSetting(ctx, "strategy", "Ultra-Safe"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, err := database.GetSetting(ctx, "strategy")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "Ultra-Safe" {
		t.Errorf("expected Ultra-Safe, got %q", v)
	}
}

func TestApplyMigrationsTwice(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations: %v", err)
	}
}
