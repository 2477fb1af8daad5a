package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the server-side Store backend. Column layout mirrors the SQLite schema.
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS candles_1m (
		time TIMESTAMPTZ NOT NULL,
		symbol VARCHAR(20) NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		turnover DOUBLE PRECISION NOT NULL DEFAULT 0,
		vol_buy DOUBLE PRECISION NOT NULL DEFAULT 0,
		vol_sell DOUBLE PRECISION NOT NULL DEFAULT 0,
		UNIQUE (time, symbol)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_candles_symbol_time ON candles_1m(symbol, time DESC)`,
	`CREATE TABLE IF NOT EXISTS trades (
		order_id VARCHAR(64) PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(4) NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		notional DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		strategy VARCHAR(50) NOT NULL DEFAULT '',
		mode VARCHAR(10) NOT NULL,
		exchange VARCHAR(20) NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
}

// NewPostgres connects a pool to dsn and runs the migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{Pool: pool}
	if err := p.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range postgresMigrations {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	return nil
}

const pgUpsertCandleSQL = `
	INSERT INTO candles_1m (` + candleColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (time, symbol) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		turnover = EXCLUDED.turnover,
		vol_buy = EXCLUDED.vol_buy,
		vol_sell = EXCLUDED.vol_sell
`

func pgCandleArgs(c Candle) []any {
	return []any{c.Time.UTC(), c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume, c.Turnover, c.BuyVolume, c.SellVolume}
}

func (p *Postgres) SaveCandle(ctx context.Context, c Candle) error {
	if _, err := p.Pool.Exec(ctx, pgUpsertCandleSQL, pgCandleArgs(c)...); err != nil {
		return fmt.Errorf("save candle: %w", err)
	}
	return nil
}

func (p *Postgres) SaveBulkCandles(ctx context.Context, candles []Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(pgUpsertCandleSQL, pgCandleArgs(c)...)
	}
	br := p.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save candles: %w", err)
		}
	}
	return nil
}

func (p *Postgres) GetRecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT `+candleColumns+` FROM (
			SELECT `+candleColumns+` FROM candles_1m
			WHERE symbol = $1
			ORDER BY time DESC
			LIMIT $2
		) recent ORDER BY time ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.Time, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Turnover, &c.BuyVolume, &c.SellVolume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Time = c.Time.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveTrade(ctx context.Context, t Trade) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO NOTHING
	`, t.OrderID, t.Symbol, t.Side, t.Price, t.Amount, t.Notional, t.Status, t.Strategy, t.Mode, t.Exchange, t.Error, t.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.OrderID, err)
	}
	return nil
}

func (p *Postgres) GetOpenTrades(ctx context.Context) ([]Trade, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`, TradeStatusOpen, TradeStatusFilled)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return scanPgTrades(rows)
}

func (p *Postgres) GetTrades(ctx context.Context, limit int) ([]Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()
	return scanPgTrades(rows)
}

func (p *Postgres) UpdateTradeStatus(ctx context.Context, orderID, status string) error {
	tag, err := p.Pool.Exec(ctx, `UPDATE trades SET status = $1 WHERE order_id = $2`, status, orderID)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := p.Pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func scanPgTrades(rows pgx.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.OrderID, &t.Symbol, &t.Side, &t.Price, &t.Amount, &t.Notional, &t.Status, &t.Strategy, &t.Mode, &t.Exchange, &t.Error, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
