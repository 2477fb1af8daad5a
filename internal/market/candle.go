package market

import (
	"time"

	"metron-core/pkg/db"
	binance "metron-core/pkg/market/binance"
)

// Side is the aggressor side of a tick. Empty means the source did not say.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Regime is the market phase assigned to the latest analysed bar.
type Regime string

const (
	Accumulation  Regime = "Accumulation"
	Markup        Regime = "Markup"
	Distribution  Regime = "Distribution"
	Markdown      Regime = "Markdown"
	Consolidation Regime = "Consolidation"
)

// Regimes lists every regime in classification order.
var Regimes = []Regime{Accumulation, Markup, Distribution, Markdown, Consolidation}

// Tick is one trade print from the stream.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	Time   time.Time `json:"time"`
	Side   Side      `json:"side,omitempty"`
}

// Candle is an OHLCV bar. BuyVolume+SellVolume always equals Volume.
type Candle struct {
	OpenTime   time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	Turnover   float64   `json:"turnover"`
	BuyVolume  float64   `json:"vol_buy"`
	SellVolume float64   `json:"vol_sell"`
}

// MinuteOf truncates t to the start of its UTC minute.
func MinuteOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// NewCandle opens a 1-minute candle seeded by the first tick of the minute.
func NewCandle(t Tick) Candle {
	c := Candle{
		OpenTime: MinuteOf(t.Time),
		Symbol:   t.Symbol,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
	}
	c.addVolume(t)
	return c
}

// Apply folds a tick that belongs to the same minute into the candle.
func (c *Candle) Apply(t Tick) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.addVolume(t)
}

func (c *Candle) addVolume(t Tick) {
	c.Volume += t.Qty
	c.Turnover += t.Price * t.Qty
	side := t.Side
	if side == "" {
		side = SideSell
		if t.Price >= c.Open {
			side = SideBuy
		}
	}
	if side == SideBuy {
		c.BuyVolume += t.Qty
	} else {
		c.SellVolume += t.Qty
	}
}

// TypicalPrice is (H+L+C)/3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Row converts to the storage model.
func (c Candle) Row() db.Candle {
	return db.Candle{
		Time: c.OpenTime, Symbol: c.Symbol,
		Open: c.Open, High: c.High, Low: c.Low, Close: c.Close,
		Volume: c.Volume, Turnover: c.Turnover,
		BuyVolume: c.BuyVolume, SellVolume: c.SellVolume,
	}
}

// FromRow converts a stored candle.
func FromRow(r db.Candle) Candle {
	return Candle{
		OpenTime: r.Time.UTC(), Symbol: r.Symbol,
		Open: r.Open, High: r.High, Low: r.Low, Close: r.Close,
		Volume: r.Volume, Turnover: r.Turnover,
		BuyVolume: r.BuyVolume, SellVolume: r.SellVolume,
	}
}

// FromKline converts an exchange kline. Taker buy volume gives the buy side;
// quote volume is the traded turnover.
func FromKline(k binance.Kline) Candle {
	buy := k.TakerBuyBaseVolume
	if buy > k.Volume {
		buy = k.Volume
	}
	return Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(), Symbol: k.Symbol,
		Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
		Volume: k.Volume, Turnover: k.QuoteVolume,
		BuyVolume: buy, SellVolume: k.Volume - buy,
	}
}
