package indicators

import (
	"math"

	"metron-core/internal/market"
)

// Feature keys present in FeatureSet.Values once their warmup is satisfied.
const (
	KeySMA20        = "sma_20"
	KeyEMA20        = "ema_20"
	KeyEMA50        = "ema_50"
	KeyEMA200       = "ema_200"
	KeyRSI          = "rsi_14"
	KeyMACD         = "macd"
	KeyMACDSignal   = "macd_signal"
	KeyMACDHist     = "macd_hist"
	KeyBBUpper      = "bb_upper"
	KeyBBMid        = "bb_mid"
	KeyBBLower      = "bb_lower"
	KeyATR          = "atr_14"
	KeyVolatility   = "atr_pct"
	KeyVolatilityMA = "atr_pct_sma_20"
	KeyVWAP         = "vwap"
	KeyDelta        = "smart_delta"
	KeyActivity     = "activity"
	KeyActivityMA   = "activity_sma_20"
	KeyProfileHigh  = "vp_high"
	KeyProfileLow   = "vp_low"
)

// Params sets indicator periods. Zero fields fall back to DefaultParams.
type Params struct {
	SMA          int
	EMAFast      int
	EMAMid       int
	EMASlow      int
	RSI          int
	MACDFast     int
	MACDSlow     int
	MACDSignal   int
	Bollinger    int
	BollingerK   float64
	ATR          int
	Baseline     int // smoothing window for volatility and activity
	ProfileWidth int // rolling window of the volume-profile proxy
}

var DefaultParams = Params{
	SMA: 20, EMAFast: 20, EMAMid: 50, EMASlow: 200, RSI: 14,
	MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
	Bollinger: 20, BollingerK: 2, ATR: 14, Baseline: 20, ProfileWidth: 24,
}

// FeatureSet is one analysed bar: the candle, its indicator values and the
// regime assigned by the classifier. Never persisted.
type FeatureSet struct {
	market.Candle
	Values map[string]float64 `json:"values"`
	Regime market.Regime      `json:"regime,omitempty"`
}

// Value returns the named feature and whether it is available.
func (f FeatureSet) Value(key string) (float64, bool) {
	v, ok := f.Values[key]
	return v, ok
}

// Apply computes every feature over candles with DefaultParams.
func Apply(candles []market.Candle) []FeatureSet {
	return DefaultParams.Apply(candles)
}

// Apply computes every feature. Each row only depends on rows at or before
// it, so prefixes of the result equal Apply on prefixes of the input.
func (p Params) Apply(candles []market.Candle) []FeatureSet {
	p = p.withDefaults()
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	atr := ATRSeries(candles, p.ATR)
	volatility := RatioSeries(atr, closes, 100)
	activity := ActivitySeries(candles)
	macd, macdSignal, macdHist := MACDSeries(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	bbUpper, bbMid, bbLower := BollingerSeries(closes, p.Bollinger, p.BollingerK)
	profileMean := SMASeries(closes, p.ProfileWidth)
	profileStd := StdSeries(closes, p.ProfileWidth)

	series := map[string][]float64{
		KeySMA20:        SMASeries(closes, p.SMA),
		KeyEMA20:        EMASeries(closes, p.EMAFast),
		KeyEMA50:        EMASeries(closes, p.EMAMid),
		KeyEMA200:       EMASeries(closes, p.EMASlow),
		KeyRSI:          RSISeries(closes, p.RSI),
		KeyMACD:         macd,
		KeyMACDSignal:   macdSignal,
		KeyMACDHist:     macdHist,
		KeyBBUpper:      bbUpper,
		KeyBBMid:        bbMid,
		KeyBBLower:      bbLower,
		KeyATR:          atr,
		KeyVolatility:   volatility,
		KeyVolatilityMA: SMASeries(volatility, p.Baseline),
		KeyVWAP:         VWAPSeries(candles),
		KeyDelta:        DeltaSeries(candles),
		KeyActivity:     activity,
		KeyActivityMA:   SMASeries(activity, p.Baseline),
		KeyProfileHigh:  addSeries(profileMean, profileStd, 1),
		KeyProfileLow:   addSeries(profileMean, profileStd, -1),
	}

	out := make([]FeatureSet, len(candles))
	for i, c := range candles {
		values := make(map[string]float64, len(series))
		for key, s := range series {
			if v := s[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				values[key] = v
			}
		}
		out[i] = FeatureSet{Candle: c, Values: values}
	}
	return out
}

func (p Params) withDefaults() Params {
	d := DefaultParams
	if p.SMA > 0 {
		d.SMA = p.SMA
	}
	if p.EMAFast > 0 {
		d.EMAFast = p.EMAFast
	}
	if p.EMAMid > 0 {
		d.EMAMid = p.EMAMid
	}
	if p.EMASlow > 0 {
		d.EMASlow = p.EMASlow
	}
	if p.RSI > 0 {
		d.RSI = p.RSI
	}
	if p.MACDFast > 0 {
		d.MACDFast = p.MACDFast
	}
	if p.MACDSlow > 0 {
		d.MACDSlow = p.MACDSlow
	}
	if p.MACDSignal > 0 {
		d.MACDSignal = p.MACDSignal
	}
	if p.Bollinger > 0 {
		d.Bollinger = p.Bollinger
	}
	if p.BollingerK > 0 {
		d.BollingerK = p.BollingerK
	}
	if p.ATR > 0 {
		d.ATR = p.ATR
	}
	if p.Baseline > 0 {
		d.Baseline = p.Baseline
	}
	if p.ProfileWidth > 0 {
		d.ProfileWidth = p.ProfileWidth
	}
	return d
}

func addSeries(a, b []float64, sign float64) []float64 {
	out := nanSeries(len(a))
	for i := range a {
		out[i] = a[i] + sign*b[i]
	}
	return out
}
