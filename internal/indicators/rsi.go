package indicators

import "math"

// RSISeries uses Wilder smoothing of gains and losses.
func RSISeries(values []float64, period int) []float64 {
	n := len(values)
	out := nanSeries(n)
	if n < period+1 || period <= 0 {
		return out
	}
	gains := nanSeries(n)
	losses := nanSeries(n)
	for i := 1; i < n; i++ {
		change := values[i] - values[i-1]
		gains[i] = math.Max(change, 0)
		losses[i] = math.Max(-change, 0)
	}
	avgGain := RMASeries(gains, period)
	avgLoss := RMASeries(losses, period)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
		case l == 0 && g == 0:
			out[i] = 50
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}
