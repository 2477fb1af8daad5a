package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("binance stream closed")

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		dialer:    websocket.DefaultDialer,
	}
}

// TradeStream is one open <symbol>@trade connection. Reads are pull-based so
// the caller owns liveness timeouts and reconnection.
type TradeStream struct {
	conn *websocket.Conn
	once sync.Once
	mu   sync.Mutex
	done bool
}

// DialTrades opens the public trade stream for symbol.
func (c *StreamClient) DialTrades(ctx context.Context, symbol string) (*TradeStream, error) {
	// Binance requires lowercase symbols for WebSocket streams
	u := fmt.Sprintf("%s/%s@trade", c.StreamURL, strings.ToLower(symbol))
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws trades: %w", err)
	}
	return &TradeStream{conn: conn}, nil
}

// Next blocks until a trade arrives or timeout elapses. Unparseable frames are
// skipped; any read error ends the stream.
func (s *TradeStream) Next(timeout time.Duration) (Trade, error) {
	for {
		if s.closed() {
			return Trade{}, ErrStreamClosed
		}
		if timeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return Trade{}, ErrStreamClosed
			}
			return Trade{}, fmt.Errorf("binance ws trade read: %w", err)
		}
		trade, err := parseTradeMessage(msg)
		if err != nil || trade.Price == 0 && trade.Qty == 0 && trade.Time == 0 {
			continue
		}
		return trade, nil
	}
}

// Close sends a close frame and releases the socket. Safe to call repeatedly.
func (s *TradeStream) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		// Ignore errors; connection may already be closed.
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *TradeStream) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func parseTradeMessage(msg []byte) (Trade, error) {
	var raw struct {
		EventTime any    `json:"E"`
		Symbol    string `json:"s"`
		Price     any    `json:"p"`
		Qty       any    `json:"q"`
		TradeTime any    `json:"T"`
		BuyerIsMM bool   `json:"m"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return Trade{}, err
	}
	ts := toInt64(raw.TradeTime)
	if ts == 0 {
		ts = toInt64(raw.EventTime)
	}
	return Trade{
		Symbol:       raw.Symbol,
		Price:        toFloat(raw.Price),
		Qty:          toFloat(raw.Qty),
		Time:         ts,
		IsBuyerMaker: raw.BuyerIsMM,
	}, nil
}
