package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/market"
)

func TestMockOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMock(100, map[string]float64{"USDT": 500})

	ack, err := m.CreateMarketOrder(ctx, "BTCUSDT", market.SideBuy, 0.5)
	require.NoError(t, err)
	assert.Equal(t, OrderClosed, ack.Status)
	assert.Equal(t, 100.0, ack.AveragePrice)

	state, err := m.FetchOrder(ctx, ack.ID, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, OrderClosed, state)

	_, err = m.FetchOrder(ctx, "missing", "BTCUSDT")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	m.SetOrder("seeded", OrderOpen)
	state, err = m.FetchOrder(ctx, "seeded", "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, state.Active())

	m.OrderErr = errors.New("venue down")
	_, err = m.CreateMarketOrder(ctx, "BTCUSDT", market.SideBuy, 1)
	assert.Error(t, err)
	assert.Len(t, m.Placed(), 1)
}

func TestMockBalancesAreCopied(t *testing.T) {
	m := NewMock(1, map[string]float64{"USDT": 10})
	b, err := m.FetchBalance(context.Background())
	require.NoError(t, err)
	b["USDT"] = 0
	again, _ := m.FetchBalance(context.Background())
	assert.Equal(t, 10.0, again["USDT"])
}

func TestBreakerOpensAndProbes(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker(BreakerConfig{FailureThreshold: 2, CircuitTimeout: time.Minute})
	b.now = func() time.Time { return clock }

	fail := errors.New("boom")
	b.record(fail)
	assert.True(t, b.allow())
	b.record(fail)
	assert.False(t, b.allow(), "open after threshold")
	assert.True(t, b.health().Open)

	clock = clock.Add(time.Minute)
	assert.True(t, b.allow(), "half-open probe")
	assert.False(t, b.allow(), "only one probe per window")

	b.record(nil)
	assert.True(t, b.allow())
	assert.Equal(t, 0, b.health().Failures)
}

func TestStateOfTreatsFilledAsClosed(t *testing.T) {
	assert.Equal(t, OrderClosed, stateOf("FILLED"))
	assert.Equal(t, OrderCanceled, stateOf("CANCELED"))
	assert.Equal(t, OrderOpen, stateOf("NEW"))
	assert.Equal(t, OrderOpen, stateOf("PARTIAL"))
}

func TestBinanceFetchOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/order":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gw := NewBinance(BinanceConfig{
		APIKey: "k", APISecret: "s",
		TradingURL: srv.URL, MarketURL: srv.URL,
		Timeout: time.Second,
		Logger:  zerolog.Nop(),
	})
	defer gw.Close()

	_, err := gw.FetchOrder(context.Background(), "42", "BTCUSDT")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.False(t, gw.Health().Open)
}

func TestBinanceFetchOrderFilled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-MBX-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"FILLED","executedQty":"1"}`))
	}))
	defer srv.Close()

	gw := NewBinance(BinanceConfig{APIKey: "k", APISecret: "s", TradingURL: srv.URL, Logger: zerolog.Nop()})
	state, err := gw.FetchOrder(context.Background(), "42", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, OrderClosed, state)
}

func TestBinanceFetchRecentCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		_, _ = w.Write([]byte(`[[1700000000000,"10","12","9","11","100",1700000059999,"1100",5,"60","660","0"]]`))
	}))
	defer srv.Close()

	gw := NewBinance(BinanceConfig{MarketURL: srv.URL, Logger: zerolog.Nop()})
	candles, err := gw.FetchRecentCandles(context.Background(), "BTCUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 11.0, candles[0].Close)
	assert.Equal(t, 60.0, candles[0].BuyVolume)
	assert.Equal(t, 40.0, candles[0].SellVolume)
}
