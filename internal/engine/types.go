package engine

import (
	"errors"
	"time"

	"metron-core/internal/gateway"
	"metron-core/internal/indicators"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/persistence"
	"metron-core/internal/strategy"
	"metron-core/internal/stream"
)

// ErrInvalidRequest marks operator input that cannot be acted on.
var ErrInvalidRequest = errors.New("invalid request")

// StrategyInfo describes the active mode and the full catalog.
type StrategyInfo struct {
	Mode   strategy.Mode     `json:"mode"`
	Active strategy.Config   `json:"active"`
	Modes  []strategy.Config `json:"modes"`
}

// TradingConfigRequest changes sizing or venue. Nil fields keep the current value.
type TradingConfigRequest struct {
	RiskPercentage *float64 `json:"risk_percentage"`
	Paper          *bool    `json:"paper_trading"`
}

// BacktestRequest selects the history and the simulation parameters.
type BacktestRequest struct {
	Symbol    string `json:"symbol"`
	Mode      string `json:"mode"`
	Limit     int    `json:"limit"`
	Timeframe string `json:"timeframe"`
	// Fetch pulls fresh candles from the exchange instead of the store.
	Fetch bool `json:"fetch"`

	FeeRate          float64 `json:"fee_rate"`
	Slippage         float64 `json:"slippage"`
	InitialBalance   float64 `json:"initial_balance"`
	PositionFraction float64 `json:"position_fraction"`
	TakeProfitPct    float64 `json:"take_profit_pct"`
	StopLossPct      float64 `json:"stop_loss_pct"`
	ExitScore        *int    `json:"exit_score,omitempty"`
	Warmup           int     `json:"warmup"`
}

// Backtest history bounds, in one-minute candles.
const (
	DefaultBacktestLimit = 1000
	MaxBacktestLimit     = 20000

	DefaultTradesLimit = 50
	MaxTradesLimit     = 500
)

// MarketStatusRequest picks the history for a market status view. Limit
// counts one-minute source candles; zero sizes it from the timeframe.
type MarketStatusRequest struct {
	Symbol    string
	Timeframe string
	Limit     int
}

// MarketStatus is the resampled history with indicators and the market phase
// of every bar.
type MarketStatus struct {
	Symbol       string                  `json:"symbol"`
	Timeframe    string                  `json:"timeframe"`
	CurrentPhase market.Regime           `json:"current_phase"`
	Bars         []indicators.FeatureSet `json:"data"`
}

const (
	DefaultMarketStatusTimeframe = time.Hour
	// DefaultMarketStatusBars is how many output bars the default limit aims for.
	DefaultMarketStatusBars = 200
)

// Meta is static information about the running process.
type Meta struct {
	Version     string `json:"version"`
	Venue       string `json:"venue"`
	UseMockFeed bool   `json:"use_mock_feed"`
}

// SystemStatus is the payload of the status endpoint.
type SystemStatus struct {
	Meta
	ServerTime       time.Time         `json:"server_time"`
	StartedAt        time.Time         `json:"started_at"`
	Uptime           string            `json:"uptime"`
	Mode             strategy.Mode     `json:"mode"`
	Trading          order.Config      `json:"trading"`
	Stream           stream.Status     `json:"stream"`
	OpenPositions    int               `json:"open_positions"`
	Persistence      persistence.Stats `json:"persistence"`
	PendingCandles   int               `json:"pending_candles"`
	UnverifiedOrders []string          `json:"unverified_orders"`
	Gateway          *gateway.Health   `json:"gateway,omitempty"`
	LastAnalysis     *stream.Report    `json:"last_analysis,omitempty"`
}
