package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/analysis"
	"metron-core/internal/data"
	"metron-core/internal/events"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type sinkRecorder struct {
	mu      sync.Mutex
	candles []market.Candle
}

func (s *sinkRecorder) Enqueue(c market.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, c)
	return true
}

func (s *sinkRecorder) all() []market.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]market.Candle(nil), s.candles...)
}

type warmerFunc func() (data.WarmResult, error)

func (f warmerFunc) Warm(context.Context, string, int, time.Duration) (data.WarmResult, error) {
	return f()
}

type fixedDecider struct{ decision strategy.Decision }

func (d fixedDecider) Decide(sig analysis.SignalResult, regime market.Regime) strategy.Decision {
	out := d.decision
	out.Score = sig.Score
	out.Regime = regime
	return out
}

type traderStub struct {
	mu       sync.Mutex
	open     bool
	requests []order.Request
	result   order.Result
	err      error
}

func (t *traderStub) Execute(_ context.Context, req order.Request) (order.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	return t.result, t.err
}

func (t *traderStub) HasOpenPosition(string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

type alertRecorder struct {
	verdicts []string
}

func (a *alertRecorder) SendAlert(_ context.Context, verdict, _ string, _ float64, _ string) (bool, error) {
	a.verdicts = append(a.verdicts, verdict)
	return true, nil
}

func rising(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = market.Candle{
			OpenTime: t0.Add(time.Duration(i-n) * time.Minute), Symbol: "BTCUSDT",
			Open: p - 0.5, High: p + 1, Low: p - 1, Close: p,
			Volume: 10, Turnover: 10 * p, BuyVolume: 10,
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	sink   *sinkRecorder
	trader *traderStub
	alerts *alertRecorder
	bus    *events.Bus
}

func newFixture(decision strategy.Decision) *fixture {
	f := &fixture{
		sink:   &sinkRecorder{},
		trader: &traderStub{},
		alerts: &alertRecorder{},
		bus:    events.NewBus(),
	}
	f.engine = New(Config{Symbol: "btcusdt", BufferSize: 500}, Deps{
		History:  warmerFunc(func() (data.WarmResult, error) { return data.WarmResult{}, nil }),
		Queue:    f.sink,
		Analyzer: analysis.NewAnalyzer(analysis.DefaultPolicy, 0),
		Strategy: fixedDecider{decision: decision},
		Executor: f.trader,
		Bus:      f.bus,
		Alerts:   f.alerts,
		Logger:   zerolog.Nop(),
	})
	f.engine.now = func() time.Time { return t0.Add(10 * time.Minute) }
	return f
}

func tick(price float64, at time.Time) market.Tick {
	return market.Tick{Symbol: "BTCUSDT", Price: price, Qty: 1, Time: at, Side: market.SideBuy}
}

func TestMinuteRolloverClosesAndEnqueues(t *testing.T) {
	f := newFixture(strategy.Decision{})
	e := f.engine

	require.NoError(t, e.HandleTick(tick(100, t0.Add(5*time.Second))))
	require.NoError(t, e.HandleTick(tick(103, t0.Add(20*time.Second))))
	require.NoError(t, e.HandleTick(tick(99, t0.Add(50*time.Second))))
	assert.Empty(t, f.sink.all(), "open candle is not persisted")

	require.NoError(t, e.HandleTick(tick(101, t0.Add(61*time.Second))))

	closed := f.sink.all()
	require.Len(t, closed, 1)
	c := closed[0]
	assert.Equal(t, t0, c.OpenTime)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 103.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 99.0, c.Close)
	assert.Equal(t, 3.0, c.Volume)
	assert.Equal(t, c.Volume, c.BuyVolume+c.SellVolume)

	snap := e.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, t0.Add(time.Minute), snap[1].OpenTime)
	assert.Equal(t, uint64(4), e.Status().TicksAccepted)
}

func TestInvalidTicksAreDropped(t *testing.T) {
	f := newFixture(strategy.Decision{})
	e := f.engine
	now := e.now()

	cases := map[string]market.Tick{
		"zero price":   tick(0, now),
		"far future":   tick(100, now.Add(6*time.Second)),
		"other symbol": {Symbol: "ETHUSDT", Price: 1, Qty: 1, Time: now},
		"no timestamp": {Symbol: "BTCUSDT", Price: 1, Qty: 1},
	}
	for name, tk := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, e.HandleTick(tk), market.ErrInvalidTick)
		})
	}
	assert.NoError(t, e.HandleTick(tick(100, now.Add(4*time.Second))), "within the future tolerance")
	assert.Equal(t, uint64(len(cases)), e.Status().TicksDropped)
}

func TestTicksForClosedMinutesAreRejected(t *testing.T) {
	f := newFixture(strategy.Decision{})
	e := f.engine
	e.Seed(rising(5))

	err := e.HandleTick(tick(100, t0.Add(-2*time.Minute)))
	assert.ErrorIs(t, err, market.ErrInvalidTick)

	require.NoError(t, e.HandleTick(tick(100, t0.Add(2*time.Minute))))
	err = e.HandleTick(tick(100, t0.Add(time.Minute)))
	assert.ErrorIs(t, err, market.ErrInvalidTick, "behind the open minute")
}

func TestRingKeepsNewest(t *testing.T) {
	r := newRing(3)
	for _, c := range rising(5) {
		r.push(c)
	}
	got := r.appendTo(nil)
	require.Len(t, got, 3)
	assert.Equal(t, 102.0, got[0].Close)
	assert.Equal(t, 104.0, got[2].Close)
	last, ok := r.last()
	require.True(t, ok)
	assert.Equal(t, 104.0, last.Close)
}

func TestAnalysisExecutesWhenDecisionAllows(t *testing.T) {
	decision := strategy.Decision{Mode: strategy.Aggressive, Strategy: strategy.Aggressive, ShouldTrade: true, FinalVerdict: "BUY", Verdict: analysis.Buy}
	f := newFixture(decision)
	f.trader.result = order.Result{Trade: order.Trade{OrderID: "PAPER-1", Symbol: "BTCUSDT", Status: order.StatusFilled}}
	f.engine.Seed(rising(300))

	trades, unsub := f.bus.Subscribe(events.EventTrade, 4)
	defer unsub()

	report, err := f.engine.RunAnalysis(context.Background())
	require.NoError(t, err)
	require.Len(t, f.trader.requests, 1)
	assert.Equal(t, "BTCUSDT", f.trader.requests[0].Symbol)
	assert.Equal(t, 399.0, f.trader.requests[0].Price)
	require.NotNil(t, report.Trade)
	assert.Equal(t, "PAPER-1", report.Trade.OrderID)

	select {
	case msg := <-trades:
		assert.Equal(t, events.EventTrade, msg.Type)
	default:
		t.Fatal("trade was not broadcast")
	}
	assert.Len(t, f.alerts.verdicts, 1)

	last, ok := f.engine.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.Time, last.Time)
}

func TestAnalysisSkipsWhenPositionOpen(t *testing.T) {
	f := newFixture(strategy.Decision{ShouldTrade: true, Verdict: analysis.Buy, FinalVerdict: "BUY"})
	f.trader.open = true
	f.engine.Seed(rising(100))

	report, err := f.engine.RunAnalysis(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.trader.requests)
	assert.Nil(t, report.Trade)
	assert.Equal(t, "position already open", report.Note)
}

func TestAnalysisPublishesDegradedAlert(t *testing.T) {
	f := newFixture(strategy.Decision{ShouldTrade: true, Verdict: analysis.Buy, FinalVerdict: "BUY"})
	f.trader.result = order.Result{Trade: order.Trade{OrderID: "PAPER-9"}, Degraded: true}
	f.engine.Seed(rising(100))

	alerts, unsub := f.bus.Subscribe(events.EventAlert, 1)
	defer unsub()

	report, err := f.engine.RunAnalysis(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	msg := <-alerts
	assert.Contains(t, msg.Data.(events.Alert).Message, "PAPER-9")
}

func TestAnalysisGateAllowsOneCycle(t *testing.T) {
	f := newFixture(strategy.Decision{})
	f.engine.Seed(rising(100))

	f.engine.analysisMu.Lock()
	_, err := f.engine.RunAnalysis(context.Background())
	f.engine.analysisMu.Unlock()
	assert.ErrorIs(t, err, ErrAnalysisBusy)

	_, err = f.engine.RunAnalysis(context.Background())
	assert.NoError(t, err)
}

func TestAnalysisNeedsHistory(t *testing.T) {
	f := newFixture(strategy.Decision{})
	_, err := f.engine.RunAnalysis(context.Background())
	assert.Error(t, err)
	assert.Nil(t, f.alerts.verdicts)
}

// scriptedSource hands out one stream per Connect call.
type scriptedSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	dials   int
	onDial  func(n int)
}

func (s *scriptedSource) Connect(context.Context, string) (market.TickStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.onDial != nil {
		s.onDial(s.dials)
	}
	if len(s.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	st := s.streams[0]
	s.streams = s.streams[1:]
	return st, nil
}

type fakeStream struct {
	ticks  chan market.Tick
	fail   error
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newFakeStream(fail error) *fakeStream {
	return &fakeStream{ticks: make(chan market.Tick, 8), fail: fail, done: make(chan struct{})}
}

func (s *fakeStream) Recv(timeout time.Duration) (market.Tick, error) {
	if s.fail != nil {
		return market.Tick{}, s.fail
	}
	select {
	case t := <-s.ticks:
		return t, nil
	case <-s.done:
		return market.Tick{}, market.ErrStreamClosed
	case <-time.After(timeout):
		return market.Tick{}, errors.New("read timeout")
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestRunReconnectsAndClosesEveryConnection(t *testing.T) {
	first := newFakeStream(errors.New("connection reset"))
	second := newFakeStream(nil)
	src := &scriptedSource{streams: []*fakeStream{first, second}}
	src.onDial = func(n int) {
		if n == 2 {
			assert.True(t, first.isClosed(), "old connection closed before redial")
		}
	}

	f := newFixture(strategy.Decision{})
	f.engine.deps.Source = src
	f.engine.deps.History = warmerFunc(func() (data.WarmResult, error) {
		return data.WarmResult{Candles: rising(10)}, nil
	})
	f.engine.cfg.ReconnectBackoff = 10 * time.Millisecond
	f.engine.cfg.AnalysisInterval = time.Hour
	f.engine.now = time.Now

	ticks, unsub := f.bus.Subscribe(events.EventTick, 4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	select {
	case <-f.engine.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("engine never became ready")
	}
	assert.Len(t, f.engine.Snapshot(), 10)

	second.ticks <- market.Tick{Symbol: "BTCUSDT", Price: 200, Qty: 1, Time: time.Now()}
	select {
	case msg := <-ticks:
		assert.Equal(t, 200.0, msg.Data.(market.Tick).Price)
	case <-time.After(2 * time.Second):
		t.Fatal("tick not broadcast after reconnect")
	}
	assert.Equal(t, StateStreaming, f.engine.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, second.isClosed())
	assert.Equal(t, StateStopped, f.engine.State())
	assert.GreaterOrEqual(t, f.engine.Status().Reconnects, uint64(1))
}

func TestColdStartRetriesStoreFailures(t *testing.T) {
	f := newFixture(strategy.Decision{})
	var calls int
	f.engine.deps.History = warmerFunc(func() (data.WarmResult, error) {
		calls++
		if calls < 3 {
			return data.WarmResult{}, errors.New("disk gone")
		}
		return data.WarmResult{Candles: rising(10)}, nil
	})
	f.engine.cfg.ReconnectBackoff = time.Millisecond

	require.True(t, f.engine.warm(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Len(t, f.engine.Snapshot(), 10)
	assert.False(t, f.engine.Status().Stale)
}

func TestRunSurvivesPermanentColdStartFailure(t *testing.T) {
	live := newFakeStream(nil)
	f := newFixture(strategy.Decision{})
	f.engine.deps.Source = &scriptedSource{streams: []*fakeStream{live}}
	f.engine.deps.History = warmerFunc(func() (data.WarmResult, error) {
		return data.WarmResult{}, errors.New("disk gone")
	})
	f.engine.cfg.ReconnectBackoff = time.Millisecond
	f.engine.cfg.AnalysisInterval = time.Hour
	f.engine.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	select {
	case <-f.engine.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("engine never became ready")
	}
	st := f.engine.Status()
	assert.True(t, st.Stale)
	assert.Zero(t, st.Buffered)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestColdStartStopsOnCancel(t *testing.T) {
	f := newFixture(strategy.Decision{})
	f.engine.deps.History = warmerFunc(func() (data.WarmResult, error) {
		return data.WarmResult{}, errors.New("disk gone")
	})
	f.engine.cfg.ReconnectBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, f.engine.Run(ctx))
	assert.Equal(t, StateStopped, f.engine.State())
	select {
	case <-f.engine.Ready():
		t.Fatal("ready without a cold start")
	default:
	}
}
