// Package gateway is the exchange capability surface consumed by the core:
// candles, tickers, balances, market orders and order lookups.
package gateway

import (
	"context"
	"errors"
	"time"

	"metron-core/internal/market"
)

var (
	// ErrOrderNotFound is returned by FetchOrder when the venue has no such order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("gateway unavailable")
)

// OrderState is the venue-neutral lifecycle of an order. A fully filled
// market order is "closed".
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderClosed   OrderState = "closed"
	OrderCanceled OrderState = "canceled"
	OrderExpired  OrderState = "expired"
	OrderRejected OrderState = "rejected"
)

// Active reports whether the order can still change on the venue.
func (s OrderState) Active() bool { return s == OrderOpen }

// OrderAck is the venue's answer to a market order.
type OrderAck struct {
	ID           string     `json:"id"`
	Status       OrderState `json:"status"`
	AveragePrice float64    `json:"average_price"`
	Amount       float64    `json:"amount"`
}

// Ticker is the last traded price.
type Ticker struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Gateway is implemented by Binance and Mock.
type Gateway interface {
	FetchRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchBalance(ctx context.Context) (map[string]float64, error)
	CreateMarketOrder(ctx context.Context, symbol string, side market.Side, amount float64) (OrderAck, error)
	FetchOrder(ctx context.Context, id, symbol string) (OrderState, error)
	Close() error
}
