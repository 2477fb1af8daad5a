package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/aggregator"
	"metron-core/internal/analysis"
	"metron-core/internal/backtest"
	"metron-core/internal/events"
	"metron-core/internal/gateway"
	"metron-core/internal/indicators"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/strategy"
	"metron-core/internal/stream"
	"metron-core/pkg/db"
)

type fakeStream struct {
	ticks  []market.Tick
	tickFn func(market.Tick) error
	report stream.Report
	ran    bool
}

func (f *fakeStream) Symbol() string { return "BTCUSDT" }

func (f *fakeStream) HandleTick(t market.Tick) error {
	f.ticks = append(f.ticks, t)
	if f.tickFn != nil {
		return f.tickFn(t)
	}
	return nil
}

func (f *fakeStream) RunAnalysis(context.Context) (stream.Report, error) {
	f.ran = true
	return f.report, nil
}

func (f *fakeStream) LastReport() (stream.Report, bool) { return f.report, f.ran }

func (f *fakeStream) Status() stream.Status {
	return stream.Status{Symbol: "BTCUSDT", State: stream.StateStreaming, Ready: true}
}

func (f *fakeStream) Subscribe(int) (<-chan events.Message, func()) {
	ch := make(chan events.Message)
	return ch, func() {}
}

type fakeCandles struct {
	bars       []market.Candle
	fetched    bool
	lastSymbol string
	lastLimit  int
}

func (f *fakeCandles) Recent(_ context.Context, symbol string, limit int) ([]market.Candle, error) {
	f.lastSymbol, f.lastLimit = symbol, limit
	return f.bars, nil
}

func (f *fakeCandles) Fetch(_ context.Context, symbol string, limit int, _ bool) ([]market.Candle, error) {
	f.fetched = true
	f.lastSymbol, f.lastLimit = symbol, limit
	return f.bars, nil
}

type pendingStub []string

func (p pendingStub) Pending() []string { return p }

func newTestImpl(t *testing.T) (*Impl, *fakeStream, *fakeCandles, *db.Database) {
	t.Helper()
	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zerolog.Nop()
	manager := strategy.NewManager(store, strategy.NewCatalog(nil), logger)
	executor := order.NewExecutor(store, gateway.NewMock(100, map[string]float64{"USDT": 1000}), order.Config{
		RiskPercentage: 10,
		Paper:          true,
		PaperBalance:   1000,
		MinBalance:     10,
	}, nil, logger)

	st := &fakeStream{}
	candles := &fakeCandles{}
	impl := NewImpl(Config{
		Stream:    st,
		Strategy:  manager,
		Executor:  executor,
		Candles:   candles,
		Trades:    store,
		Reconcile: pendingStub{"ord-1"},
		Policy:    analysis.DefaultPolicy,
		Timeframe: time.Minute,
		Meta:      Meta{Version: "test", Venue: "mock", UseMockFeed: true},
		Logger:    logger,
	})
	return impl, st, candles, store
}

func ptr[T any](v T) *T { return &v }

func TestSetStrategyMode(t *testing.T) {
	impl, _, _, store := newTestImpl(t)
	ctx := context.Background()

	info := impl.GetStrategy(ctx)
	assert.Equal(t, strategy.Balanced, info.Mode)
	assert.Len(t, info.Modes, len(strategy.Modes))

	info, err := impl.SetStrategyMode(ctx, "ultra_safe")
	require.NoError(t, err)
	assert.Equal(t, strategy.UltraSafe, info.Mode)
	assert.Equal(t, strategy.UltraSafe, info.Active.Mode)

	stored, err := store.GetSetting(ctx, strategy.SettingKey)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	_, err = impl.SetStrategyMode(ctx, "yolo")
	assert.ErrorIs(t, err, strategy.ErrInvalidMode)
	assert.Equal(t, strategy.UltraSafe, impl.GetStrategy(ctx).Mode)
}

func TestConfigureTrading(t *testing.T) {
	impl, _, _, _ := newTestImpl(t)
	ctx := context.Background()

	cfg, err := impl.ConfigureTrading(ctx, TradingConfigRequest{RiskPercentage: ptr(2.5)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RiskPercentage)
	assert.True(t, cfg.Paper, "paper flag kept when omitted")

	cfg, err = impl.ConfigureTrading(ctx, TradingConfigRequest{Paper: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.RiskPercentage)
	assert.False(t, cfg.Paper)

	_, err = impl.ConfigureTrading(ctx, TradingConfigRequest{RiskPercentage: ptr(150.0)})
	assert.ErrorIs(t, err, order.ErrInvalidRisk)

	_, err = impl.ConfigureTrading(ctx, TradingConfigRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInjectTickStampsMissingTime(t *testing.T) {
	impl, st, _, _ := newTestImpl(t)

	require.NoError(t, impl.InjectTick(context.Background(), market.Tick{Price: 100, Qty: 1}))
	require.Len(t, st.ticks, 1)
	assert.False(t, st.ticks[0].Time.IsZero())

	st.tickFn = func(market.Tick) error { return market.ErrInvalidTick }
	err := impl.InjectTick(context.Background(), market.Tick{Price: -1, Qty: 1})
	assert.True(t, errors.Is(err, market.ErrInvalidTick))
}

func TestGetTradesMapsLedgerRows(t *testing.T) {
	impl, _, _, store := newTestImpl(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTrade(ctx, db.Trade{
		OrderID: "a", Symbol: "BTCUSDT", Side: "BUY", Price: 100, Amount: 0.1,
		Status: db.TradeStatusOpen, Mode: "PAPER", Timestamp: time.Now().UTC(),
	}))

	trades, err := impl.GetTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "a", trades[0].OrderID)
	assert.Equal(t, order.StatusOpen, trades[0].Status)

	positions, err := impl.GetPositions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, positions)
	assert.Empty(t, positions)
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func risingMinutes(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		p := 100 + float64(i)*0.2
		c := market.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSDT",
			Open: p - 0.1, High: p + 0.1, Low: p - 0.2, Close: p,
			Volume: 5, BuyVolume: 5,
		}
		c.Turnover = c.TypicalPrice() * c.Volume
		out[i] = c
	}
	return out
}

func TestRunBacktestUsesStoreByDefault(t *testing.T) {
	impl, _, candles, _ := newTestImpl(t)
	ctx := context.Background()

	candles.bars = risingMinutes(120)

	res, err := impl.RunBacktest(ctx, BacktestRequest{Mode: "aggressive", Limit: 120})
	require.NoError(t, err)
	assert.False(t, candles.fetched)
	assert.Equal(t, "BTCUSDT", candles.lastSymbol)
	assert.Equal(t, 120, candles.lastLimit)
	assert.Equal(t, strategy.Aggressive, res.Mode)
	assert.Equal(t, 120, res.Bars)
	assert.InDelta(t, res.Metrics.InitialBalance+res.Metrics.NetProfit, res.Metrics.FinalBalance, 1e-9)

	_, err = impl.RunBacktest(ctx, BacktestRequest{Symbol: "ethusdt", Fetch: true, Timeframe: "5m"})
	assert.True(t, candles.fetched)
	assert.Equal(t, "ETHUSDT", candles.lastSymbol)
	assert.Equal(t, DefaultBacktestLimit, candles.lastLimit)
	assert.ErrorIs(t, err, backtest.ErrNotEnoughBars, "120 minutes is 24 five-minute bars")
}

func TestRunBacktestRejectsBadInput(t *testing.T) {
	impl, _, _, _ := newTestImpl(t)
	ctx := context.Background()

	_, err := impl.RunBacktest(ctx, BacktestRequest{Mode: "nope"})
	assert.ErrorIs(t, err, strategy.ErrInvalidMode)

	_, err = impl.RunBacktest(ctx, BacktestRequest{Timeframe: "90s"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = impl.RunBacktest(ctx, BacktestRequest{Limit: MaxBacktestLimit + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMarketStatusLabelsResampledBars(t *testing.T) {
	impl, _, candles, _ := newTestImpl(t)
	ctx := context.Background()
	candles.bars = risingMinutes(300)

	ms, err := impl.MarketStatus(ctx, MarketStatusRequest{Timeframe: "15m"})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", ms.Symbol)
	assert.Equal(t, "15m0s", ms.Timeframe)
	assert.Equal(t, DefaultMarketStatusBars*15, candles.lastLimit)
	require.Len(t, ms.Bars, 20)
	for i, row := range ms.Bars {
		assert.Contains(t, market.Regimes, row.Regime, "bar %d", i)
		assert.Zero(t, row.OpenTime.UnixMilli()%(15*time.Minute).Milliseconds())
	}
	assert.Equal(t, ms.Bars[len(ms.Bars)-1].Regime, ms.CurrentPhase)
	_, ok := ms.Bars[0].Value(indicators.KeySMA20)
	assert.False(t, ok, "SMA window not filled on the first bar")
	_, ok = ms.Bars[19].Value(indicators.KeySMA20)
	assert.True(t, ok)

	ms, err = impl.MarketStatus(ctx, MarketStatusRequest{Symbol: "ethusdt", Timeframe: "1H", Limit: 300})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", candles.lastSymbol)
	assert.Equal(t, 300, candles.lastLimit)
	assert.Len(t, ms.Bars, 5)

	ms, err = impl.MarketStatus(ctx, MarketStatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, "1h0m0s", ms.Timeframe)
	assert.Equal(t, DefaultMarketStatusBars*60, candles.lastLimit)

	_, err = impl.MarketStatus(ctx, MarketStatusRequest{Timeframe: "1d"})
	require.NoError(t, err)
	assert.Equal(t, MaxBacktestLimit, candles.lastLimit, "default capped at the history bound")
}

func TestMarketStatusRejectsBadInput(t *testing.T) {
	impl, _, candles, _ := newTestImpl(t)
	ctx := context.Background()

	_, err := impl.MarketStatus(ctx, MarketStatusRequest{Timeframe: "soon"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = impl.MarketStatus(ctx, MarketStatusRequest{Limit: MaxBacktestLimit + 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	candles.bars = risingMinutes(1)
	_, err = impl.MarketStatus(ctx, MarketStatusRequest{Timeframe: "5m"})
	assert.ErrorIs(t, err, aggregator.ErrInsufficientBars)
}

func TestParseTimeframe(t *testing.T) {
	for raw, want := range map[string]time.Duration{
		"":    time.Minute,
		"5m":  5 * time.Minute,
		"4H":  4 * time.Hour,
		"1d":  24 * time.Hour,
		" 1h": time.Hour,
	} {
		got, err := parseTimeframe(raw, time.Minute)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"90s", "0m", "xd", "-5m"} {
		_, err := parseTimeframe(raw, time.Minute)
		assert.ErrorIs(t, err, ErrInvalidRequest, raw)
	}
}

func TestSystemStatus(t *testing.T) {
	impl, st, _, _ := newTestImpl(t)
	ctx := context.Background()

	status := impl.GetSystemStatus(ctx)
	assert.Equal(t, "test", status.Version)
	assert.True(t, status.UseMockFeed)
	assert.Equal(t, stream.StateStreaming, status.Stream.State)
	assert.Equal(t, []string{"ord-1"}, status.UnverifiedOrders)
	assert.Nil(t, status.Gateway)
	assert.Nil(t, status.LastAnalysis)

	st.report = stream.Report{Symbol: "BTCUSDT", Price: 101}
	_, err := impl.RunAnalysis(ctx)
	require.NoError(t, err)
	status = impl.GetSystemStatus(ctx)
	require.NotNil(t, status.LastAnalysis)
	assert.Equal(t, 101.0, status.LastAnalysis.Price)
}
