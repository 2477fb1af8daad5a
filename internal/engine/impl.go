package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/aggregator"
	"metron-core/internal/analysis"
	"metron-core/internal/backtest"
	"metron-core/internal/events"
	"metron-core/internal/gateway"
	"metron-core/internal/indicators"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/persistence"
	"metron-core/internal/strategy"
	"metron-core/internal/stream"
	"metron-core/pkg/db"
)

// Stream is the live engine as seen by the facade.
type Stream interface {
	Symbol() string
	HandleTick(t market.Tick) error
	RunAnalysis(ctx context.Context) (stream.Report, error)
	LastReport() (stream.Report, bool)
	Status() stream.Status
	Subscribe(buffer int) (<-chan events.Message, func())
}

// Candles loads backtest history from the store or the exchange.
type Candles interface {
	Recent(ctx context.Context, symbol string, limit int) ([]market.Candle, error)
	Fetch(ctx context.Context, symbol string, limit int, persist bool) ([]market.Candle, error)
}

// TradeHistory lists ledger rows, newest first.
type TradeHistory interface {
	GetTrades(ctx context.Context, limit int) ([]db.Trade, error)
}

// QueueStats reports the candle persistence queue.
type QueueStats interface {
	Stats() persistence.Stats
	Pending() int
}

// PendingOrders lists orders reconciliation could not verify.
type PendingOrders interface {
	Pending() []string
}

// HealthReporter exposes the exchange circuit breaker.
type HealthReporter interface {
	Health() gateway.Health
}

// Impl implements Service by composing the core modules.
type Impl struct {
	stream    Stream
	strategy  *strategy.Manager
	executor  *order.Executor
	candles   Candles
	trades    TradeHistory
	queue     QueueStats
	reconcile PendingOrders
	health    HealthReporter
	policy    analysis.VotePolicy
	timeframe time.Duration
	logger    zerolog.Logger

	meta      Meta
	startedAt time.Time
}

// Config holds the collaborators of an Impl. Queue, Reconcile and Health
// are optional.
type Config struct {
	Stream    Stream
	Strategy  *strategy.Manager
	Executor  *order.Executor
	Candles   Candles
	Trades    TradeHistory
	Queue     QueueStats
	Reconcile PendingOrders
	Health    HealthReporter
	Policy    analysis.VotePolicy
	// Timeframe is the default backtest timeframe, normally the live
	// analysis timeframe.
	Timeframe time.Duration
	Meta      Meta
	Logger    zerolog.Logger
}

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Timeframe <= 0 {
		cfg.Timeframe = 5 * time.Minute
	}
	return &Impl{
		stream:    cfg.Stream,
		strategy:  cfg.Strategy,
		executor:  cfg.Executor,
		candles:   cfg.Candles,
		trades:    cfg.Trades,
		queue:     cfg.Queue,
		reconcile: cfg.Reconcile,
		health:    cfg.Health,
		policy:    cfg.Policy,
		timeframe: cfg.Timeframe,
		logger:    cfg.Logger.With().Str("component", "engine").Logger(),
		meta:      cfg.Meta,
		startedAt: time.Now().UTC(),
	}
}

// --- Strategy ---

func (e *Impl) GetStrategy(ctx context.Context) StrategyInfo {
	mode := e.strategy.Mode()
	return StrategyInfo{
		Mode:   mode,
		Active: e.strategy.Catalog().Config(mode),
		Modes:  e.strategy.Configs(),
	}
}

func (e *Impl) SetStrategyMode(ctx context.Context, mode string) (StrategyInfo, error) {
	if _, err := e.strategy.SetMode(ctx, mode); err != nil {
		return StrategyInfo{}, err
	}
	return e.GetStrategy(ctx), nil
}

// --- Trading ---

func (e *Impl) ConfigureTrading(ctx context.Context, req TradingConfigRequest) (order.Config, error) {
	if req.RiskPercentage == nil && req.Paper == nil {
		return order.Config{}, fmt.Errorf("%w: nothing to change", ErrInvalidRequest)
	}
	cur := e.executor.Config()
	risk, paper := cur.RiskPercentage, cur.Paper
	if req.RiskPercentage != nil {
		risk = *req.RiskPercentage
	}
	if req.Paper != nil {
		paper = *req.Paper
	}
	return e.executor.Configure(ctx, risk, paper)
}

func (e *Impl) GetPositions(ctx context.Context) ([]order.Trade, error) {
	positions := e.executor.Positions()
	if positions == nil {
		positions = []order.Trade{}
	}
	return positions, nil
}

func (e *Impl) GetTrades(ctx context.Context, limit int) ([]order.Trade, error) {
	switch {
	case limit <= 0:
		limit = DefaultTradesLimit
	case limit > MaxTradesLimit:
		limit = MaxTradesLimit
	}
	rows, err := e.trades.GetTrades(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	out := make([]order.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, order.FromRow(r))
	}
	return out, nil
}

// --- Market data and analysis ---

func (e *Impl) InjectTick(ctx context.Context, t market.Tick) error {
	if t.Time.IsZero() {
		t.Time = time.Now().UTC()
	}
	return e.stream.HandleTick(t)
}

func (e *Impl) RunAnalysis(ctx context.Context) (stream.Report, error) {
	return e.stream.RunAnalysis(ctx)
}

func (e *Impl) Subscribe(buffer int) (<-chan events.Message, func()) {
	return e.stream.Subscribe(buffer)
}

// RunBacktest replays stored (or freshly fetched) one-minute candles through
// the simulator with the current catalog and vote policy.
func (e *Impl) RunBacktest(ctx context.Context, req BacktestRequest) (*backtest.Result, error) {
	params, err := e.backtestParams(req)
	if err != nil {
		return nil, err
	}

	symbol := e.symbolOr(req.Symbol)
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = DefaultBacktestLimit
	case limit > MaxBacktestLimit:
		return nil, fmt.Errorf("%w: limit %d above %d", ErrInvalidRequest, limit, MaxBacktestLimit)
	}

	var bars []market.Candle
	if req.Fetch {
		bars, err = e.candles.Fetch(ctx, symbol, limit, true)
	} else {
		bars, err = e.candles.Recent(ctx, symbol, limit)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := backtest.Run(bars, params)
	if err != nil {
		return nil, err
	}
	res.Symbol = symbol
	e.logger.Info().
		Str("symbol", symbol).
		Stringer("mode", params.Mode).
		Int("bars", len(bars)).
		Int("trades", len(res.Trades)).
		Float64("net_profit", res.Metrics.NetProfit).
		Dur("took", time.Since(start)).
		Msg("backtest complete")
	return &res, nil
}

func (e *Impl) backtestParams(req BacktestRequest) (backtest.Params, error) {
	mode := e.strategy.Mode()
	if strings.TrimSpace(req.Mode) != "" {
		m, err := strategy.ParseMode(req.Mode)
		if err != nil {
			return backtest.Params{}, err
		}
		mode = m
	}
	tf, err := parseTimeframe(req.Timeframe, e.timeframe)
	if err != nil {
		return backtest.Params{}, err
	}
	policy := e.policy
	return backtest.Params{
		Mode:             mode,
		Timeframe:        tf,
		FeeRate:          req.FeeRate,
		Slippage:         req.Slippage,
		InitialBalance:   req.InitialBalance,
		PositionFraction: req.PositionFraction,
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
		ExitScore:        req.ExitScore,
		Warmup:           req.Warmup,
		Catalog:          e.strategy.Catalog(),
		Policy:           &policy,
	}, nil
}

// MarketStatus resamples stored one-minute history to the requested
// timeframe and labels every bar with its indicators and market phase.
func (e *Impl) MarketStatus(ctx context.Context, req MarketStatusRequest) (*MarketStatus, error) {
	tf, err := parseTimeframe(req.Timeframe, DefaultMarketStatusTimeframe)
	if err != nil {
		return nil, err
	}
	symbol := e.symbolOr(req.Symbol)
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = min(DefaultMarketStatusBars*int(tf/time.Minute), MaxBacktestLimit)
	case limit > MaxBacktestLimit:
		return nil, fmt.Errorf("%w: limit %d above %d", ErrInvalidRequest, limit, MaxBacktestLimit)
	}

	bars, err := e.candles.Recent(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	series, err := aggregator.Aggregate(bars, tf)
	if err != nil {
		return nil, err
	}
	rows := indicators.Apply(series)
	analysis.Label(rows)
	return &MarketStatus{
		Symbol:       symbol,
		Timeframe:    tf.String(),
		CurrentPhase: rows[len(rows)-1].Regime,
		Bars:         rows,
	}, nil
}

func (e *Impl) symbolOr(symbol string) string {
	if s := strings.ToUpper(strings.TrimSpace(symbol)); s != "" {
		return s
	}
	return e.stream.Symbol()
}

// parseTimeframe accepts Go durations ("15m", "4h") and whole days ("1d").
// The result must be a whole number of minutes.
func parseTimeframe(raw string, def time.Duration) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return def, nil
	}
	var (
		d   time.Duration
		err error
	)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n int
		n, err = strconv.Atoi(days)
		d = time.Duration(n) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil || d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("%w: timeframe %q", ErrInvalidRequest, raw)
	}
	return d, nil
}

// --- System ---

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	now := time.Now().UTC()
	status := &SystemStatus{
		Meta:             e.meta,
		ServerTime:       now,
		StartedAt:        e.startedAt,
		Uptime:           now.Sub(e.startedAt).Truncate(time.Second).String(),
		Mode:             e.strategy.Mode(),
		Trading:          e.executor.Config(),
		Stream:           e.stream.Status(),
		OpenPositions:    len(e.executor.Positions()),
		UnverifiedOrders: []string{},
	}
	if e.queue != nil {
		status.Persistence = e.queue.Stats()
		status.PendingCandles = e.queue.Pending()
	}
	if e.reconcile != nil {
		if pending := e.reconcile.Pending(); len(pending) > 0 {
			status.UnverifiedOrders = pending
		}
	}
	if e.health != nil {
		h := e.health.Health()
		status.Gateway = &h
	}
	if report, ok := e.stream.LastReport(); ok {
		status.LastAnalysis = &report
	}
	return status
}
