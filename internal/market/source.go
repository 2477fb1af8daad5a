package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	binance "metron-core/pkg/market/binance"
)

// ErrStreamClosed is returned by Recv once the stream has been closed.
var ErrStreamClosed = errors.New("tick stream closed")

// TickStream is one live connection. Recv blocks for at most the timeout.
type TickStream interface {
	Recv(timeout time.Duration) (Tick, error)
	Close() error
}

// TickSource dials a fresh TickStream for a symbol.
type TickSource interface {
	Connect(ctx context.Context, symbol string) (TickStream, error)
}

// BinanceSource streams public trades from Binance.
type BinanceSource struct {
	Stream *binance.StreamClient
}

func (s *BinanceSource) Connect(ctx context.Context, symbol string) (TickStream, error) {
	if s.Stream == nil {
		return nil, errors.New("binance source: stream client not set")
	}
	ts, err := s.Stream.DialTrades(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &binanceTickStream{stream: ts, symbol: strings.ToUpper(symbol)}, nil
}

type binanceTickStream struct {
	stream *binance.TradeStream
	symbol string
}

func (b *binanceTickStream) Recv(timeout time.Duration) (Tick, error) {
	tr, err := b.stream.Next(timeout)
	if errors.Is(err, binance.ErrStreamClosed) {
		return Tick{}, ErrStreamClosed
	}
	if err != nil {
		return Tick{}, fmt.Errorf("recv trade: %w", err)
	}
	symbol := tr.Symbol
	if symbol == "" {
		symbol = b.symbol
	}
	side := SideBuy
	if tr.IsBuyerMaker {
		side = SideSell
	}
	return Tick{Symbol: symbol, Price: tr.Price, Qty: tr.Qty, Time: time.UnixMilli(tr.Time).UTC(), Side: side}, nil
}

func (b *binanceTickStream) Close() error {
	return b.stream.Close()
}
