// Package order sizes, executes and records trades, and owns the in-memory
// position list. The ledger is always written before memory.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metron-core/internal/gateway"
	"metron-core/internal/market"
	"metron-core/internal/monitor"
	"metron-core/pkg/db"
)

var (
	// ErrInsufficientBalance aborts a REAL execution before any order is placed.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderFailed wraps a gateway failure; the Result carries status FAILED.
	ErrOrderFailed = errors.New("order failed")
	ErrNotTradable = errors.New("decision does not trade")
	ErrInvalidRisk = errors.New("risk percentage must be in (0, 100]")
)

// Ledger is the subset of db.Store the executor writes to.
type Ledger interface {
	SaveTrade(ctx context.Context, t db.Trade) error
	GetOpenTrades(ctx context.Context) ([]db.Trade, error)
	UpdateTradeStatus(ctx context.Context, orderID, status string) error
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Config holds the sizing and venue settings.
type Config struct {
	RiskPercentage float64 `json:"risk_percentage"`
	Paper          bool    `json:"paper_trading"`
	PaperBalance   float64 `json:"paper_balance"`
	MinBalance     float64 `json:"min_balance"`
	QuoteAsset     string  `json:"quote_asset"`
	Exchange       string  `json:"exchange"`
}

// Executor runs Requests in PAPER or REAL mode.
type Executor struct {
	ledger  Ledger
	gateway gateway.Gateway
	metrics *monitor.Metrics
	logger  zerolog.Logger

	now   func() time.Time
	newID func() string

	cfgMu sync.RWMutex
	cfg   Config

	mu        sync.RWMutex
	positions map[string]Trade // order id -> trade
}

func NewExecutor(ledger Ledger, gw gateway.Gateway, cfg Config, metrics *monitor.Metrics, logger zerolog.Logger) *Executor {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "binance"
	}
	return &Executor{
		ledger:    ledger,
		gateway:   gw,
		metrics:   metrics,
		logger:    logger.With().Str("component", "executor").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
		cfg:       cfg,
		positions: make(map[string]Trade),
	}
}

// Config returns the current settings.
func (e *Executor) Config() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Execute places (or simulates) the order described by req.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if !req.Decision.ShouldTrade {
		return Result{}, ErrNotTradable
	}
	if req.Price <= 0 {
		return Result{}, fmt.Errorf("execute %s: invalid price %v", req.Symbol, req.Price)
	}
	side := req.Side
	if side == "" {
		var ok bool
		if side, ok = SideFor(req.Decision.Verdict); !ok {
			return Result{}, fmt.Errorf("execute %s: %w: no side for verdict %s", req.Symbol, ErrNotTradable, req.Decision.Verdict)
		}
	}

	cfg := e.Config()
	trade := Trade{
		Symbol:    strings.ToUpper(req.Symbol),
		Side:      side,
		Price:     req.Price,
		Strategy:  req.Decision.Strategy.String(),
		Exchange:  cfg.Exchange,
		Timestamp: e.now().UTC(),
	}

	if cfg.Paper {
		return e.executePaper(ctx, cfg, trade)
	}
	return e.executeReal(ctx, cfg, trade)
}

func (e *Executor) executePaper(ctx context.Context, cfg Config, trade Trade) (Result, error) {
	trade.Notional = cfg.PaperBalance * cfg.RiskPercentage / 100
	trade.Amount = trade.Notional / trade.Price
	trade.OrderID = "PAPER-" + e.newID()
	trade.Mode = ModePaper
	trade.Status = StatusFilled
	return e.commit(ctx, trade), nil
}

func (e *Executor) executeReal(ctx context.Context, cfg Config, trade Trade) (Result, error) {
	trade.Mode = ModeReal
	if e.gateway == nil {
		return e.fail(ctx, trade, errors.New("no exchange gateway configured"))
	}

	start := e.now()
	balances, err := e.gateway.FetchBalance(ctx)
	e.metrics.GatewayCall("balance", e.now().Sub(start))
	if err != nil {
		return e.fail(ctx, trade, fmt.Errorf("fetch balance: %w", err))
	}
	// BUY spends quote; SELL spends the base asset, valued at price for the floor.
	asset, value := cfg.QuoteAsset, 1.0
	if trade.Side == market.SideSell {
		asset, value = baseAsset(trade.Symbol, cfg.QuoteAsset), trade.Price
	}
	free := balances[asset]
	if free*value < cfg.MinBalance || free <= 0 {
		e.logger.Warn().Float64("free", free).Float64("min", cfg.MinBalance).Str("asset", asset).Str("side", string(trade.Side)).Msg("balance below floor, skipping order")
		return Result{}, fmt.Errorf("%w: %.8f %s free, floor %.8f %s", ErrInsufficientBalance, free, asset, cfg.MinBalance, cfg.QuoteAsset)
	}

	spend := free * cfg.RiskPercentage / 100
	if trade.Side == market.SideSell {
		trade.Amount = spend
		trade.Notional = spend * trade.Price
	} else {
		trade.Notional = spend
		trade.Amount = spend / trade.Price
	}

	start = e.now()
	ack, err := e.gateway.CreateMarketOrder(ctx, trade.Symbol, trade.Side, trade.Amount)
	e.metrics.GatewayCall("order", e.now().Sub(start))
	if err != nil {
		return e.fail(ctx, trade, fmt.Errorf("create order: %w", err))
	}

	trade.OrderID = ack.ID
	if ack.AveragePrice > 0 {
		trade.Price = ack.AveragePrice
	}
	if ack.Amount > 0 {
		trade.Amount = ack.Amount
		trade.Notional = ack.Amount * trade.Price
	}
	trade.Status = StatusOpen
	if ack.Status == gateway.OrderClosed {
		trade.Status = StatusFilled
	}
	return e.commit(ctx, trade), nil
}

// baseAsset strips the quote asset from a pair such as BTCUSDT or BTC/USDT.
func baseAsset(symbol, quote string) string {
	symbol = strings.ReplaceAll(strings.ToUpper(symbol), "/", "")
	return strings.TrimSuffix(symbol, strings.ToUpper(quote))
}

// commit writes the ledger, then memory. A ledger failure still publishes
// the position so the caller does not enter twice.
func (e *Executor) commit(ctx context.Context, trade Trade) Result {
	res := Result{Trade: trade}
	if err := e.ledger.SaveTrade(ctx, trade.Row()); err != nil {
		res.Degraded = true
		e.logger.Error().Err(err).Str("order_id", trade.OrderID).Msg("ledger write failed; trade is not durable")
	}

	e.mu.Lock()
	e.positions[trade.OrderID] = trade
	n := len(e.positions)
	e.mu.Unlock()

	e.metrics.TradeExecuted(string(trade.Mode), string(trade.Status))
	e.metrics.OpenPositions(n)
	e.logger.Info().
		Str("order_id", trade.OrderID).
		Str("symbol", trade.Symbol).
		Str("side", string(trade.Side)).
		Float64("price", trade.Price).
		Float64("amount", trade.Amount).
		Str("mode", string(trade.Mode)).
		Bool("degraded", res.Degraded).
		Msg("trade executed")
	return res
}

// fail records a FAILED attempt (best effort) and leaves memory untouched.
func (e *Executor) fail(ctx context.Context, trade Trade, cause error) (Result, error) {
	trade.OrderID = "FAILED-" + e.newID()
	trade.Status = StatusFailed
	trade.Error = cause.Error()

	res := Result{Trade: trade}
	if err := e.ledger.SaveTrade(ctx, trade.Row()); err != nil {
		res.Degraded = true
		e.logger.Warn().Err(err).Msg("could not record failed order")
	}
	e.metrics.TradeExecuted(string(trade.Mode), string(trade.Status))
	e.logger.Error().Err(cause).Str("symbol", trade.Symbol).Msg("order failed")
	return res, fmt.Errorf("%w: %v", ErrOrderFailed, cause)
}

// Positions returns a copy of the active positions, oldest first.
func (e *Executor) Positions() []Trade {
	e.mu.RLock()
	out := make([]Trade, 0, len(e.positions))
	for _, t := range e.positions {
		out = append(out, t)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// HasOpenPosition reports whether any active position exists for symbol.
func (e *Executor) HasOpenPosition(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.positions {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// ReplacePositions swaps the whole position set, used by reconciliation.
func (e *Executor) ReplacePositions(trades []Trade) {
	next := make(map[string]Trade, len(trades))
	for _, t := range trades {
		next[t.OrderID] = t
	}
	e.mu.Lock()
	e.positions = next
	e.mu.Unlock()
	e.metrics.OpenPositions(len(next))
}

// Adopt adds a position whose ledger row already exists.
func (e *Executor) Adopt(t Trade) {
	e.mu.Lock()
	e.positions[t.OrderID] = t
	n := len(e.positions)
	e.mu.Unlock()
	e.metrics.OpenPositions(n)
}

// OpenTrades reads the active ledger rows.
func (e *Executor) OpenTrades(ctx context.Context) ([]Trade, error) {
	rows, err := e.ledger.GetOpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromRow(r))
	}
	return out, nil
}
