package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const candleColumns = `time, symbol, open, high, low, close, volume, turnover, vol_buy, vol_sell`

const upsertCandleSQL = `
	INSERT INTO candles_1m (` + candleColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(time, symbol) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume,
		turnover = excluded.turnover,
		vol_buy = excluded.vol_buy,
		vol_sell = excluded.vol_sell
`

const tradeColumns = `order_id, symbol, side, price, amount, notional, status, strategy, mode, exchange, error, created_at`

// SaveCandle upserts one closed candle.
func (d *Database) SaveCandle(ctx context.Context, c Candle) error {
	if _, err := d.DB.ExecContext(ctx, upsertCandleSQL, candleArgs(c)...); err != nil {
		return fmt.Errorf("save candle: %w", err)
	}
	return nil
}

// SaveBulkCandles upserts candles inside a single transaction.
func (d *Database) SaveBulkCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertCandleSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, candleArgs(c)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save candle %s@%d: %w", c.Symbol, c.Time.UnixMilli(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candles: %w", err)
	}
	return nil
}

// GetRecentCandles returns the newest limit candles for symbol, oldest first.
func (d *Database) GetRecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+candleColumns+` FROM (
			SELECT `+candleColumns+` FROM candles_1m
			WHERE symbol = ?
			ORDER BY time DESC
			LIMIT ?
		) ORDER BY time ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var (
			c  Candle
			ts int64
		)
		if err := rows.Scan(&ts, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover, &c.BuyVolume, &c.SellVolume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = time.UnixMilli(ts).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveTrade inserts a ledger row; an existing order id is left untouched.
func (d *Database) SaveTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING
	`, t.OrderID, t.Symbol, t.Side, t.Price, t.Amount, t.Notional, t.Status, t.Strategy, t.Mode, t.Exchange, t.Error, t.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.OrderID, err)
	}
	return nil
}

// GetOpenTrades lists ledger rows still holding a position (OPEN or FILLED).
func (d *Database) GetOpenTrades(ctx context.Context) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status IN (?, ?)
		ORDER BY created_at ASC
	`, TradeStatusOpen, TradeStatusFilled)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// GetTrades returns the newest trades first.
func (d *Database) GetTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// UpdateTradeStatus sets the status of one ledger row.
func (d *Database) UpdateTradeStatus(ctx context.Context, orderID, status string) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE trades SET status = ? WHERE order_id = ?`, status, orderID)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", orderID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSetting returns ErrNotFound when the key has never been written.
func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func candleArgs(c Candle) []any {
	return []any{c.Time.UnixMilli(), c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover, c.BuyVolume, c.SellVolume}
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows rowScanner) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		var (
			t  Trade
			ts int64
		)
		if err := rows.Scan(&t.OrderID, &t.Symbol, &t.Side, &t.Price, &t.Amount, &t.Notional, &t.Status, &t.Strategy, &t.Mode, &t.Exchange, &t.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
