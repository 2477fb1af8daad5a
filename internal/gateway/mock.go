package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"metron-core/internal/market"
)

// Mock is an in-memory venue for paper runs and tests. Market orders fill
// immediately at Price. Errors set on the struct are returned by the
// matching call.
type Mock struct {
	mu sync.Mutex

	Price    float64
	Balances map[string]float64
	Candles  []market.Candle

	BalanceErr error
	OrderErr   error
	FetchErr   error

	orders map[string]OrderState
	placed []OrderAck
	closed bool
}

var _ Gateway = (*Mock)(nil)

func NewMock(price float64, balances map[string]float64) *Mock {
	return &Mock{Price: price, Balances: balances, orders: make(map[string]OrderState)}
}

func (m *Mock) FetchRecentCandles(_ context.Context, symbol, _ string, limit int) ([]market.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.Candles
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]market.Candle, len(src))
	for i, c := range src {
		c.Symbol = symbol
		out[i] = c
	}
	return out, nil
}

func (m *Mock) FetchTicker(_ context.Context, symbol string) (Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Ticker{Symbol: symbol, Price: m.Price, Time: time.Now().UTC()}, nil
}

func (m *Mock) FetchBalance(context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	out := make(map[string]float64, len(m.Balances))
	for k, v := range m.Balances {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) CreateMarketOrder(_ context.Context, symbol string, side market.Side, amount float64) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return OrderAck{}, m.OrderErr
	}
	if amount <= 0 {
		return OrderAck{}, fmt.Errorf("mock: invalid amount %v for %s", amount, symbol)
	}
	ack := OrderAck{ID: uuid.NewString(), Status: OrderClosed, AveragePrice: m.Price, Amount: amount}
	m.orders[ack.ID] = ack.Status
	m.placed = append(m.placed, ack)
	return ack, nil
}

func (m *Mock) FetchOrder(_ context.Context, id, _ string) (OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return "", m.FetchErr
	}
	state, ok := m.orders[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return state, nil
}

// SetOrder seeds or overrides the venue state of an order.
func (m *Mock) SetOrder(id string, state OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = state
}

// Placed returns the orders accepted so far.
func (m *Mock) Placed() []OrderAck {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderAck(nil), m.placed...)
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
