package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradeMessage(t *testing.T) {
	msg := []byte(`{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":1,"p":"50000.10","q":"0.002","T":1700000000000,"m":true}`)
	tr, err := parseTradeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, 50000.10, tr.Price)
	assert.Equal(t, 0.002, tr.Qty)
	assert.Equal(t, int64(1700000000000), tr.Time)
	assert.True(t, tr.IsBuyerMaker)
}

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`[
			[1700000000000,"100.0","101.0","99.0","100.5","3.0",1700000059999,"301.5",12,"2.0","201.0","0"],
			[1700000060000,"100.5","102.0","100.0","101.5","1.5",1700000119999,"152.0",4,"0.5","50.0","0"]
		]`))
	}))
	defer srv.Close()

	c := NewClient(false)
	c.BaseURL = srv.URL
	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "1m", 2, 0, 0)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700000060000), klines[1].OpenTime)
	assert.Equal(t, 101.5, klines[1].Close)
	assert.Equal(t, 2.0, klines[0].TakerBuyBaseVolume)
	assert.Equal(t, 12, klines[0].NumberOfTrades)
}

func TestGetTickerNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	c := NewClient(false)
	c.BaseURL = srv.URL
	_, err := c.GetTicker(context.Background(), "BTCUSDT")
	assert.ErrorContains(t, err, "status 418")
}

func TestTradeStreamNextAndClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/btcusdt@trade"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"BTCUSDT","p":"10","q":"1","T":5,"m":false}`))
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewStreamClient(false)
	c.StreamURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	stream, err := c.DialTrades(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	tr, err := stream.Next(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10.0, tr.Price)
	assert.False(t, tr.IsBuyerMaker)

	_, err = stream.Next(50 * time.Millisecond)
	assert.Error(t, err, "read deadline should surface as an error")

	require.NoError(t, stream.Close())
	assert.NoError(t, stream.Close())
	_, err = stream.Next(time.Second)
	assert.ErrorIs(t, err, ErrStreamClosed)
}
