// Package aggregator resamples 1-minute candles into coarser analysis bars.
package aggregator

import (
	"errors"
	"fmt"
	"time"

	"metron-core/internal/market"
)

var (
	// ErrInsufficientBars means fewer than two source bars were supplied.
	ErrInsufficientBars = errors.New("aggregator: need at least 2 bars")
	// ErrUnordered means source bars were not strictly increasing in time.
	ErrUnordered = errors.New("aggregator: bars out of order")
)

// DefaultMaxGapFill bounds how many missing minutes are synthesised per gap.
const DefaultMaxGapFill = 1440

// Aggregator holds the resampling options.
type Aggregator struct {
	// MaxGapFill caps synthetic bars per gap; longer outages stay empty.
	// Zero means no cap.
	MaxGapFill int
}

func New() *Aggregator {
	return &Aggregator{MaxGapFill: DefaultMaxGapFill}
}

// Aggregate is New().Aggregate.
func Aggregate(bars []market.Candle, tf time.Duration) ([]market.Candle, error) {
	return New().Aggregate(bars, tf)
}

// Aggregate buckets the 1-minute input into tf-wide bars aligned to the Unix
// epoch. At 1m the output is the gap-filled series; at coarser timeframes
// only real source bars contribute and buckets without one are dropped.
func (a *Aggregator) Aggregate(bars []market.Candle, tf time.Duration) ([]market.Candle, error) {
	if len(bars) < 2 {
		return nil, ErrInsufficientBars
	}
	if tf < time.Minute || tf%time.Minute != 0 {
		return nil, fmt.Errorf("aggregator: timeframe %s is not a whole number of minutes", tf)
	}

	src := bars
	if tf == time.Minute {
		filled, err := a.FillGaps(bars)
		if err != nil {
			return nil, err
		}
		src = filled
	} else if err := checkOrder(bars); err != nil {
		return nil, err
	}

	width := tf.Milliseconds()
	out := make([]market.Candle, 0, len(src)/int(tf/time.Minute)+1)
	var (
		cur    market.Candle
		bucket int64
		open   bool
	)
	for _, b := range src {
		ms := b.OpenTime.UnixMilli()
		start := ms - mod(ms, width)
		if !open || start != bucket {
			if open {
				out = append(out, cur)
			}
			bucket = start
			open = true
			cur = market.Candle{
				OpenTime: time.UnixMilli(start).UTC(),
				Symbol:   b.Symbol,
				Open:     b.Open,
				High:     b.High,
				Low:      b.Low,
			}
		}
		merge(&cur, b)
	}
	if open {
		out = append(out, cur)
	}
	return out, nil
}

func merge(dst *market.Candle, b market.Candle) {
	if b.High > dst.High {
		dst.High = b.High
	}
	if b.Low < dst.Low {
		dst.Low = b.Low
	}
	dst.Close = b.Close
	dst.Volume += b.Volume
	dst.Turnover += b.TypicalPrice() * b.Volume
	if b.Close >= b.Open {
		dst.BuyVolume += b.Volume
	} else {
		dst.SellVolume += b.Volume
	}
}

// FillGaps inserts zero-volume bars for missing minutes. Synthetic bars carry
// the previous close as open, high, low and close.
func (a *Aggregator) FillGaps(bars []market.Candle) ([]market.Candle, error) {
	maxFill := a.MaxGapFill
	out := make([]market.Candle, 0, len(bars))
	for i, b := range bars {
		if i == 0 {
			out = append(out, b)
			continue
		}
		prev := bars[i-1]
		gap := b.OpenTime.Sub(prev.OpenTime)
		if gap <= 0 {
			return nil, unordered(prev, b)
		}
		missing := int(gap/time.Minute) - 1
		if missing > 0 && (maxFill <= 0 || missing <= maxFill) {
			for m := 1; m <= missing; m++ {
				out = append(out, market.Candle{
					OpenTime: prev.OpenTime.Add(time.Duration(m) * time.Minute),
					Symbol:   prev.Symbol,
					Open:     prev.Close,
					High:     prev.Close,
					Low:      prev.Close,
					Close:    prev.Close,
				})
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func checkOrder(bars []market.Candle) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].OpenTime.After(bars[i-1].OpenTime) {
			return unordered(bars[i-1], bars[i])
		}
	}
	return nil
}

func unordered(prev, next market.Candle) error {
	return fmt.Errorf("%w: %s then %s", ErrUnordered, prev.OpenTime.Format(time.RFC3339), next.OpenTime.Format(time.RFC3339))
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
