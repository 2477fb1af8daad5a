package db

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// Candle is a closed 1-minute bar as stored in candles_1m.
type Candle struct {
	Time       time.Time
	Symbol     string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	Turnover   float64
	BuyVolume  float64
	SellVolume float64
}

// Trade is one row of the trade ledger. OrderID is the durability key.
type Trade struct {
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Amount    float64
	Notional  float64
	Status    string
	Strategy  string
	Mode      string
	Exchange  string
	Error     string
	Timestamp time.Time
}

// Store is the persistence contract shared by the SQLite and Postgres backends.
type Store interface {
	SaveCandle(ctx context.Context, c Candle) error
	SaveBulkCandles(ctx context.Context, candles []Candle) error
	// GetRecentCandles returns up to limit candles in ascending time order.
	GetRecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)

	// SaveTrade is a no-op when the order id already exists.
	SaveTrade(ctx context.Context, t Trade) error
	GetOpenTrades(ctx context.Context) ([]Trade, error)
	GetTrades(ctx context.Context, limit int) ([]Trade, error)
	UpdateTradeStatus(ctx context.Context, orderID, status string) error

	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	Close() error
}

// Trade ledger statuses considered open by GetOpenTrades.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusFilled = "FILLED"
	TradeStatusClosed = "CLOSED"
	TradeStatusFailed = "FAILED"
)
