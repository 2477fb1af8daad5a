// Package stream runs the live pipeline for one symbol: it keeps a trade
// stream connected, folds ticks into 1-minute candles, persists closed
// candles through a bounded queue and periodically analyses the buffer.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/aggregator"
	"metron-core/internal/analysis"
	"metron-core/internal/data"
	"metron-core/internal/events"
	"metron-core/internal/indicators"
	"metron-core/internal/market"
	"metron-core/internal/monitor"
	"metron-core/internal/order"
	"metron-core/internal/strategy"
)

// State is the connection manager state.
type State string

const (
	StateIdle       State = "idle"
	StateWarming    State = "warming"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateClosing    State = "closing"
	StateBackoff    State = "backoff"
	StateStopped    State = "stopped"
)

// Config holds the engine tunables. Zero values take the defaults.
type Config struct {
	Symbol           string
	Timeframe        time.Duration
	BufferSize       int
	BackfillLimit    int
	Freshness        time.Duration
	ReconnectBackoff time.Duration
	ReadTimeout      time.Duration
	AnalysisInterval time.Duration
	// WarmAttempts bounds cold-start retries before the engine starts from
	// an empty, stale buffer.
	WarmAttempts int
}

func (c Config) withDefaults() Config {
	if c.Timeframe <= 0 {
		c.Timeframe = time.Minute
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1500
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = 1000
	}
	if c.Freshness <= 0 {
		c.Freshness = 5 * time.Minute
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = 30 * time.Second
	}
	if c.WarmAttempts <= 0 {
		c.WarmAttempts = 3
	}
	c.Symbol = strings.ToUpper(c.Symbol)
	return c
}

// Warmer loads the cold-start history.
type Warmer interface {
	Warm(ctx context.Context, symbol string, limit int, freshness time.Duration) (data.WarmResult, error)
}

// CandleSink receives closed candles without blocking.
type CandleSink interface {
	Enqueue(c market.Candle) bool
}

// Decider turns a scored signal into a decision under the active mode.
type Decider interface {
	Decide(sig analysis.SignalResult, regime market.Regime) strategy.Decision
}

// Trader executes decisions.
type Trader interface {
	Execute(ctx context.Context, req order.Request) (order.Result, error)
	HasOpenPosition(symbol string) bool
}

// Alerter is notified after every analysis; it decides whether to speak.
type Alerter interface {
	SendAlert(ctx context.Context, verdict, symbol string, price float64, details string) (bool, error)
}

// Deps are the collaborators of the engine. Alerts and Metrics are optional.
type Deps struct {
	Source   market.TickSource
	History  Warmer
	Queue    CandleSink
	Analyzer *analysis.Analyzer
	Strategy Decider
	Executor Trader
	Bus      *events.Bus
	Alerts   Alerter
	Metrics  *monitor.Metrics
	Logger   zerolog.Logger
}

// Engine is the live stream engine.
type Engine struct {
	cfg        Config
	deps       Deps
	agg        *aggregator.Aggregator
	indicators indicators.Params
	logger     zerolog.Logger
	now        func() time.Time

	bufMu     sync.RWMutex
	buf       *ring
	open      *market.Candle
	lastPrice float64
	lastTick  time.Time

	analysisMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once

	stateMu sync.RWMutex
	state   State

	reportMu sync.RWMutex
	report   *Report

	stale      atomic.Bool
	accepted   atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

func New(cfg Config, deps Deps) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		agg:        aggregator.New(),
		indicators: indicators.DefaultParams,
		logger:     deps.Logger.With().Str("component", "stream").Str("symbol", cfg.Symbol).Logger(),
		now:        time.Now,
		buf:        newRing(cfg.BufferSize),
		ready:      make(chan struct{}),
		state:      StateIdle,
	}
}

// Symbol is the instrument this engine follows.
func (e *Engine) Symbol() string { return e.cfg.Symbol }

// Ready is closed once the cold start has finished.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// State returns the current connection state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	prev := e.state
	e.state = s
	e.stateMu.Unlock()
	if prev != s {
		e.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("state change")
	}
}

// Subscribe attaches a subscriber to every event the engine broadcasts.
func (e *Engine) Subscribe(buffer int) (<-chan events.Message, func()) {
	return e.deps.Bus.SubscribeAll(buffer)
}

// Run performs the cold start and then keeps the stream connected until ctx
// is cancelled. The previous connection is always closed before redialling.
func (e *Engine) Run(ctx context.Context) error {
	if !e.warm(ctx) {
		e.setState(StateStopped)
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.analysisLoop(ctx)
	}()

	for ctx.Err() == nil {
		e.setState(StateConnecting)
		conn, err := e.deps.Source.Connect(ctx, e.cfg.Symbol)
		if err != nil {
			e.logger.Warn().Err(err).Dur("backoff", e.cfg.ReconnectBackoff).Msg("connect failed")
			if !e.backoff(ctx) {
				break
			}
			continue
		}

		e.setState(StateStreaming)
		e.logger.Info().Msg("stream connected")
		err = e.consume(ctx, conn)

		e.setState(StateClosing)
		if cerr := conn.Close(); cerr != nil {
			e.logger.Debug().Err(cerr).Msg("close stream")
		}
		if ctx.Err() != nil {
			break
		}
		e.logger.Warn().Err(err).Dur("backoff", e.cfg.ReconnectBackoff).Msg("stream lost, reconnecting")
		if !e.backoff(ctx) {
			break
		}
	}

	wg.Wait()
	e.setState(StateStopped)
	e.logger.Info().Msg("stream engine stopped")
	return nil
}

// warm loads the cold-start history, retrying store failures with the
// reconnect backoff. When every attempt fails the engine starts from an empty
// buffer marked stale. It returns false only when ctx ends first.
func (e *Engine) warm(ctx context.Context) bool {
	e.setState(StateWarming)
	var (
		res data.WarmResult
		err error
	)
	for attempt := 1; attempt <= e.cfg.WarmAttempts; attempt++ {
		res, err = e.deps.History.Warm(ctx, e.cfg.Symbol, e.cfg.BackfillLimit, e.cfg.Freshness)
		if err == nil {
			break
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Int("of", e.cfg.WarmAttempts).Msg("cold start failed")
		if attempt < e.cfg.WarmAttempts && !sleep(ctx, e.cfg.ReconnectBackoff) {
			return false
		}
	}
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		e.logger.Error().Err(err).Msg("cold start gave up, streaming from an empty buffer")
		res = data.WarmResult{Stale: true}
	}

	e.Seed(res.Candles)
	e.stale.Store(res.Stale)
	e.logger.Info().
		Int("candles", len(res.Candles)).
		Bool("backfilled", res.Backfilled).
		Bool("stale", res.Stale).
		Msg("cold start complete")
	e.readyOnce.Do(func() { close(e.ready) })
	return true
}

// Seed loads closed candles into the buffer, skipping any that are not newer
// than what it already holds.
func (e *Engine) Seed(candles []market.Candle) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	for _, c := range candles {
		if last, ok := e.buf.last(); ok && !c.OpenTime.After(last.OpenTime) {
			continue
		}
		e.buf.push(c)
		e.lastPrice = c.Close
	}
}

func (e *Engine) backoff(ctx context.Context) bool {
	e.setState(StateBackoff)
	e.reconnects.Add(1)
	e.deps.Metrics.Reconnect()
	return sleep(ctx, e.cfg.ReconnectBackoff)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume reads ticks until the stream fails or ctx ends. Cancellation
// closes the stream to unblock Recv.
func (e *Engine) consume(ctx context.Context, conn market.TickStream) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		tick, err := conn.Recv(e.cfg.ReadTimeout)
		if err != nil {
			return err
		}
		if err := e.HandleTick(tick); err != nil && !errors.Is(err, market.ErrInvalidTick) {
			return err
		}
	}
}

func (e *Engine) analysisLoop(ctx context.Context) {
	t := time.NewTicker(e.cfg.AnalysisInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := e.RunAnalysis(ctx); err != nil {
				switch {
				case errors.Is(err, ErrAnalysisBusy), errors.Is(err, aggregator.ErrInsufficientBars):
					e.logger.Debug().Err(err).Msg("analysis skipped")
				default:
					e.logger.Error().Err(err).Msg("analysis failed")
				}
			}
		}
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	Symbol        string    `json:"symbol"`
	State         State     `json:"state"`
	Ready         bool      `json:"ready"`
	Stale         bool      `json:"stale"`
	Buffered      int       `json:"buffered"`
	LastPrice     float64   `json:"last_price"`
	LastTick      time.Time `json:"last_tick,omitempty"`
	TicksAccepted uint64    `json:"ticks_accepted"`
	TicksDropped  uint64    `json:"ticks_dropped"`
	Reconnects    uint64    `json:"reconnects"`
	LastAnalysis  time.Time `json:"last_analysis,omitempty"`
}

func (e *Engine) Status() Status {
	e.bufMu.RLock()
	buffered := e.buf.len()
	if e.open != nil {
		buffered++
	}
	price, lastTick := e.lastPrice, e.lastTick
	e.bufMu.RUnlock()

	s := Status{
		Symbol:        e.cfg.Symbol,
		State:         e.State(),
		Buffered:      buffered,
		LastPrice:     price,
		LastTick:      lastTick,
		TicksAccepted: e.accepted.Load(),
		TicksDropped:  e.dropped.Load(),
		Reconnects:    e.reconnects.Load(),
		Stale:         e.stale.Load(),
	}
	select {
	case <-e.ready:
		s.Ready = true
	default:
	}
	if r, ok := e.LastReport(); ok {
		s.LastAnalysis = r.Time
	}
	return s
}
