package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"metron-core/internal/market"
	spot "metron-core/pkg/exchanges/binance/spot"
	exchange "metron-core/pkg/exchanges/common"
	binance "metron-core/pkg/market/binance"
)

// Binance error code for an unknown order.
const codeUnknownOrder = -2013

// BinanceConfig wires the public data and signed trading clients.
type BinanceConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Timeout   time.Duration // per call
	Breaker   BreakerConfig
	Logger    zerolog.Logger

	// Optional overrides, used by tests.
	MarketURL  string
	TradingURL string
}

// Binance implements Gateway on the Binance spot REST API.
type Binance struct {
	data    *binance.Client
	trading *spot.Client
	timeout time.Duration
	breaker *breaker
	logger  zerolog.Logger
}

var _ Gateway = (*Binance)(nil)

func NewBinance(cfg BinanceConfig) *Binance {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	data := binance.NewClient(cfg.Testnet)
	if cfg.MarketURL != "" {
		data.BaseURL = cfg.MarketURL
	}
	return &Binance{
		data: data,
		trading: spot.New(spot.Config{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Testnet:   cfg.Testnet,
			BaseURL:   cfg.TradingURL,
			Logger:    cfg.Logger,
		}),
		timeout: cfg.Timeout,
		breaker: newBreaker(cfg.Breaker),
		logger:  cfg.Logger.With().Str("component", "gateway").Logger(),
	}
}

// StartTimeSync keeps signed requests inside the venue's recvWindow.
func (b *Binance) StartTimeSync(ctx context.Context) {
	b.trading.TimeSync().Start(ctx)
}

// Health reports the circuit breaker state.
func (b *Binance) Health() Health { return b.breaker.health() }

func (b *Binance) FetchRecentCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	var out []market.Candle
	err := b.call(ctx, "klines", func(ctx context.Context) error {
		klines, err := b.data.GetKlines(ctx, symbol, interval, limit, 0, 0)
		if err != nil {
			return err
		}
		out = make([]market.Candle, 0, len(klines))
		for _, k := range klines {
			out = append(out, market.FromKline(k))
		}
		return nil
	})
	return out, err
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	var out Ticker
	err := b.call(ctx, "ticker", func(ctx context.Context) error {
		t, err := b.data.GetTicker(ctx, symbol)
		if err != nil {
			return err
		}
		out = Ticker{Symbol: t.Symbol, Price: t.Price, Time: time.Now().UTC()}
		if t.Time > 0 {
			out.Time = time.UnixMilli(t.Time).UTC()
		}
		return nil
	})
	return out, err
}

func (b *Binance) FetchBalance(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	err := b.call(ctx, "balance", func(ctx context.Context) error {
		info, err := b.trading.GetAccountInfo(ctx)
		if err != nil {
			return err
		}
		out = info.FreeBalances()
		return nil
	})
	return out, err
}

func (b *Binance) CreateMarketOrder(ctx context.Context, symbol string, side market.Side, amount float64) (OrderAck, error) {
	var ack OrderAck
	err := b.call(ctx, "order", func(ctx context.Context) error {
		res, err := b.trading.SubmitOrder(ctx, exchange.OrderRequest{
			Symbol: symbol,
			Side:   exchange.Side(side),
			Type:   exchange.OrderTypeMarket,
			Qty:    amount,
		})
		if err != nil {
			return err
		}
		ack = OrderAck{
			ID:           res.ExchangeOrderID,
			Status:       stateOf(res.Status),
			AveragePrice: res.AvgPrice,
			Amount:       res.ExecutedQty,
		}
		return nil
	})
	return ack, err
}

func (b *Binance) FetchOrder(ctx context.Context, id, symbol string) (OrderState, error) {
	var state OrderState
	err := b.call(ctx, "fetch_order", func(ctx context.Context) error {
		ord, err := b.trading.GetOrder(ctx, symbol, id)
		if err != nil {
			var apiErr *spot.APIError
			if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
			}
			return err
		}
		state = stateOf(ord.NormalizedStatus())
		return nil
	})
	return state, err
}

func (b *Binance) Close() error {
	b.data.CloseIdleConnections()
	b.trading.CloseIdleConnections()
	return nil
}

// call bounds fn by the gateway timeout and feeds the breaker.
func (b *Binance) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if !b.breaker.allow() {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	err := fn(ctx)
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, spot.ErrNoCredentials) {
		// the venue answered; not a health signal
		b.breaker.record(nil)
		return err
	}
	b.breaker.record(err)
	if err != nil {
		b.logger.Warn().Err(err).Str("op", op).Msg("gateway call failed")
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// stateOf maps exchange statuses onto OrderState. FILLED is closed.
func stateOf(s exchange.OrderStatus) OrderState {
	switch s {
	case exchange.StatusFilled:
		return OrderClosed
	case exchange.StatusCanceled:
		return OrderCanceled
	case exchange.StatusExpired:
		return OrderExpired
	case exchange.StatusRejected:
		return OrderRejected
	default:
		return OrderOpen
	}
}
