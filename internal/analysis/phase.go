package analysis

import (
	"metron-core/internal/indicators"
	"metron-core/internal/market"
)

// Classify assigns a regime to the latest row. The rules are evaluated in
// order and Consolidation is the fallback, so every input has a regime.
//
//	close <= vwap, volatility below its baseline, delta > 0   Accumulation
//	close >  vwap, activity above its baseline,  delta > 0    Markup
//	close >  vwap, volatility above its baseline, delta < 0   Distribution
//	close <  vwap, delta < 0                                  Markdown
func Classify(rows []indicators.FeatureSet) market.Regime {
	if len(rows) == 0 {
		return market.Consolidation
	}
	last := rows[len(rows)-1]
	vwap, ok := last.Value(indicators.KeyVWAP)
	if !ok {
		return market.Consolidation
	}
	delta := last.BuyVolume - last.SellVolume
	if d, ok := last.Value(indicators.KeyDelta); ok {
		delta = d
	}
	price := last.Close

	highVol, volKnown := above(last, indicators.KeyVolatility, indicators.KeyVolatilityMA)
	active, actKnown := above(last, indicators.KeyActivity, indicators.KeyActivityMA)

	switch {
	case price <= vwap && volKnown && !highVol && delta > 0:
		return market.Accumulation
	case price > vwap && actKnown && active && delta > 0:
		return market.Markup
	case price > vwap && volKnown && highVol && delta < 0:
		return market.Distribution
	case price < vwap && delta < 0:
		return market.Markdown
	default:
		return market.Consolidation
	}
}

// Label classifies every prefix of rows in place, so each row carries the
// regime it had when it was the latest bar.
func Label(rows []indicators.FeatureSet) {
	for i := range rows {
		rows[i].Regime = Classify(rows[:i+1])
	}
}

// above reports value > baseline and whether both were available.
func above(row indicators.FeatureSet, key, baselineKey string) (bool, bool) {
	v, ok := row.Value(key)
	if !ok {
		return false, false
	}
	base, ok := row.Value(baselineKey)
	if !ok {
		return false, false
	}
	return v > base, true
}
