package indicators

import (
	"math"

	"metron-core/internal/market"
)

// VWAPSeries is cumulative turnover over cumulative volume. A zero cumulative
// volume divides by one, so the value is the turnover itself (zero).
func VWAPSeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	cumTurnover, cumVolume := 0.0, 0.0
	for i, c := range candles {
		cumTurnover += c.Turnover
		cumVolume += c.Volume
		div := cumVolume
		if div == 0 {
			div = 1
		}
		out[i] = cumTurnover / div
	}
	return out
}

// DeltaSeries is buy volume minus sell volume per bar.
func DeltaSeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.BuyVolume - c.SellVolume
	}
	return out
}

// ActivitySeries is the range-times-volume proxy (H-L)/O*V used when no
// trade count is available.
func ActivitySeries(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if c.Open == 0 {
			continue
		}
		out[i] = (c.High - c.Low) / c.Open * c.Volume
	}
	return out
}

// RatioSeries divides a by b element-wise, NaN where b is zero or either is NaN.
func RatioSeries(a, b []float64, scale float64) []float64 {
	out := nanSeries(len(a))
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) || b[i] == 0 {
			continue
		}
		out[i] = a[i] / b[i] * scale
	}
	return out
}
