package indicators

import (
	"math"

	"metron-core/internal/market"
)

// ATRSeries is Wilder's average true range.
func ATRSeries(candles []market.Candle, period int) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return RMASeries(tr, period)
}

// BollingerSeries returns upper, middle and lower bands at k standard deviations.
func BollingerSeries(values []float64, period int, k float64) (upper, mid, lower []float64) {
	mid = SMASeries(values, period)
	std := StdSeries(values, period)
	upper = nanSeries(len(values))
	lower = nanSeries(len(values))
	for i := range values {
		if math.IsNaN(mid[i]) || math.IsNaN(std[i]) {
			continue
		}
		upper[i] = mid[i] + k*std[i]
		lower[i] = mid[i] - k*std[i]
	}
	return upper, mid, lower
}
