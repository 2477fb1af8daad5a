package indicators

import "math"

// SMASeries is the rolling mean; the first period-1 entries are NaN, as is
// any window containing a NaN.
func SMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for _, v := range values[i-period+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(period)
	}
	return out
}

// EMASeries seeds with the SMA of the first period valid values, then applies
// alpha = 2/(period+1). Leading NaNs in the input are skipped.
func EMASeries(values []float64, period int) []float64 {
	return smooth(values, period, 2/float64(period+1))
}

// RMASeries is Wilder's smoothing (alpha = 1/period).
func RMASeries(values []float64, period int) []float64 {
	return smooth(values, period, 1/float64(period))
}

func smooth(values []float64, period int, alpha float64) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	seedEnd := start + period - 1
	if seedEnd >= len(values) {
		return out
	}
	sum := 0.0
	for _, v := range values[start : seedEnd+1] {
		sum += v
	}
	prev := sum / float64(period)
	out[seedEnd] = prev
	for i := seedEnd + 1; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// StdSeries is the rolling population standard deviation.
func StdSeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	means := SMASeries(values, period)
	for i := period - 1; i < len(values); i++ {
		m := means[i]
		if math.IsNaN(m) {
			continue
		}
		acc := 0.0
		for _, v := range values[i-period+1 : i+1] {
			acc += (v - m) * (v - m)
		}
		out[i] = math.Sqrt(acc / float64(period))
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
