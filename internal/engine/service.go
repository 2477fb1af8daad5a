// Package engine is the single entry point the HTTP layer uses to drive the
// trading core. Handlers never reach into the stream, strategy or order
// packages directly.
package engine

import (
	"context"

	"metron-core/internal/backtest"
	"metron-core/internal/events"
	"metron-core/internal/market"
	"metron-core/internal/order"
	"metron-core/internal/stream"
)

// Service defines the operations exposed to operators.
type Service interface {
	// Strategy
	GetStrategy(ctx context.Context) StrategyInfo
	SetStrategyMode(ctx context.Context, mode string) (StrategyInfo, error)

	// Trading
	ConfigureTrading(ctx context.Context, req TradingConfigRequest) (order.Config, error)
	GetPositions(ctx context.Context) ([]order.Trade, error)
	GetTrades(ctx context.Context, limit int) ([]order.Trade, error)

	// Market data and analysis
	InjectTick(ctx context.Context, t market.Tick) error
	RunAnalysis(ctx context.Context) (stream.Report, error)
	RunBacktest(ctx context.Context, req BacktestRequest) (*backtest.Result, error)
	MarketStatus(ctx context.Context, req MarketStatusRequest) (*MarketStatus, error)
	Subscribe(buffer int) (<-chan events.Message, func())

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
