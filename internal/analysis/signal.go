package analysis

import (
	"math"

	"metron-core/internal/indicators"
)

// Verdict is the sentiment label derived from the score.
type Verdict string

const (
	StrongBuy  Verdict = "STRONG_BUY"
	Buy        Verdict = "BUY"
	Neutral    Verdict = "NEUTRAL"
	Sell       Verdict = "SELL"
	StrongSell Verdict = "STRONG_SELL"
)

// IsBuy reports BUY or STRONG_BUY.
func (v Verdict) IsBuy() bool { return v == Buy || v == StrongBuy }

// IsSell reports SELL or STRONG_SELL.
func (v Verdict) IsSell() bool { return v == Sell || v == StrongSell }

// VoteSide is the direction of one indicator vote.
type VoteSide string

const (
	VoteBuy     VoteSide = "BUY"
	VoteSell    VoteSide = "SELL"
	VoteNeutral VoteSide = "NEUTRAL"
)

// Vote is one indicator's contribution to the score.
type Vote struct {
	Indicator string   `json:"indicator"`
	Side      VoteSide `json:"side"`
	Weight    int      `json:"weight"`
}

// SignalResult is the scored sentiment for the latest bar.
type SignalResult struct {
	Score   int     `json:"score"`
	Verdict Verdict `json:"verdict"`
	Votes   []Vote  `json:"votes"`
}

// VotePolicy holds vote weights and verdict bands.
type VotePolicy struct {
	RSIWeight       int     `yaml:"rsi_weight"`
	RSIOversold     float64 `yaml:"rsi_oversold"`
	RSIOverbought   float64 `yaml:"rsi_overbought"`
	TrendWeight     int     `yaml:"trend_weight"`
	MACDWeight      int     `yaml:"macd_weight"`
	BollingerWeight int     `yaml:"bollinger_weight"`
	VWAPWeight      int     `yaml:"vwap_weight"`
	DeltaWeight     int     `yaml:"delta_weight"`

	// |score| >= StrongThreshold is STRONG, >= Threshold is plain BUY/SELL.
	StrongThreshold int `yaml:"strong_threshold"`
	Threshold       int `yaml:"threshold"`
}

var DefaultPolicy = VotePolicy{
	RSIWeight: 2, RSIOversold: 30, RSIOverbought: 70,
	TrendWeight:     3,
	MACDWeight:      2,
	BollingerWeight: 1,
	VWAPWeight:      1,
	DeltaWeight:     1,
	StrongThreshold: 6,
	Threshold:       2,
}

// Vote names in the fixed order they appear in SignalResult.Votes.
const (
	VoteRSI       = "rsi"
	VoteTrend     = "ema_trend"
	VoteMACD      = "macd_cross"
	VoteBollinger = "bollinger"
	VoteVWAP      = "vwap"
	VoteDelta     = "smart_delta"
)

// Score runs every vote against the latest row (and the one before it for
// crossovers). A missing indicator votes NEUTRAL.
func (p VotePolicy) Score(rows []indicators.FeatureSet) SignalResult {
	res := SignalResult{Verdict: Neutral}
	if len(rows) == 0 {
		return res
	}
	last := rows[len(rows)-1]
	var prev *indicators.FeatureSet
	if len(rows) > 1 {
		prev = &rows[len(rows)-2]
	}

	res.Votes = []Vote{
		{VoteRSI, p.rsiVote(last), p.RSIWeight},
		{VoteTrend, trendVote(last), p.TrendWeight},
		{VoteMACD, macdVote(prev, last), p.MACDWeight},
		{VoteBollinger, bollingerVote(last), p.BollingerWeight},
		{VoteVWAP, compareVote(last, indicators.KeyVWAP), p.VWAPWeight},
		{VoteDelta, deltaVote(last), p.DeltaWeight},
	}
	for _, v := range res.Votes {
		switch v.Side {
		case VoteBuy:
			res.Score += v.Weight
		case VoteSell:
			res.Score -= v.Weight
		}
	}
	res.Verdict = p.VerdictFor(res.Score)
	return res
}

// VerdictFor maps a score onto the verdict bands.
func (p VotePolicy) VerdictFor(score int) Verdict {
	switch {
	case score >= p.StrongThreshold:
		return StrongBuy
	case score >= p.Threshold:
		return Buy
	case score <= -p.StrongThreshold:
		return StrongSell
	case score <= -p.Threshold:
		return Sell
	default:
		return Neutral
	}
}

func (p VotePolicy) rsiVote(row indicators.FeatureSet) VoteSide {
	rsi, ok := row.Value(indicators.KeyRSI)
	switch {
	case !ok:
		return VoteNeutral
	case rsi < p.RSIOversold:
		return VoteBuy
	case rsi > p.RSIOverbought:
		return VoteSell
	}
	return VoteNeutral
}

func trendVote(row indicators.FeatureSet) VoteSide {
	mid, ok1 := row.Value(indicators.KeyEMA50)
	slow, ok2 := row.Value(indicators.KeyEMA200)
	if !ok1 || !ok2 {
		return VoteNeutral
	}
	switch {
	case row.Close > mid && mid > slow:
		return VoteBuy
	case row.Close < mid && mid < slow:
		return VoteSell
	}
	return VoteNeutral
}

// crossEpsilon scales with price; a MACD histogram smaller than
// crossEpsilon*close is rounding noise and cannot cross.
const crossEpsilon = 1e-9

func macdVote(prev *indicators.FeatureSet, row indicators.FeatureSet) VoteSide {
	if prev == nil {
		return VoteNeutral
	}
	line, ok1 := row.Value(indicators.KeyMACD)
	sig, ok2 := row.Value(indicators.KeyMACDSignal)
	prevLine, ok3 := prev.Value(indicators.KeyMACD)
	prevSig, ok4 := prev.Value(indicators.KeyMACDSignal)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return VoteNeutral
	}
	hist, prevHist := line-sig, prevLine-prevSig
	eps, prevEps := crossEpsilon*math.Abs(row.Close), crossEpsilon*math.Abs(prev.Close)
	switch {
	case prevHist < -prevEps && hist > eps:
		return VoteBuy
	case prevHist > prevEps && hist < -eps:
		return VoteSell
	}
	return VoteNeutral
}

// bollingerVote treats a close outside the bands as a mean-reversion signal.
func bollingerVote(row indicators.FeatureSet) VoteSide {
	upper, ok1 := row.Value(indicators.KeyBBUpper)
	lower, ok2 := row.Value(indicators.KeyBBLower)
	if !ok1 || !ok2 {
		return VoteNeutral
	}
	switch {
	case row.Close <= lower:
		return VoteBuy
	case row.Close >= upper:
		return VoteSell
	}
	return VoteNeutral
}

func compareVote(row indicators.FeatureSet, key string) VoteSide {
	ref, ok := row.Value(key)
	switch {
	case !ok:
		return VoteNeutral
	case row.Close > ref:
		return VoteBuy
	case row.Close < ref:
		return VoteSell
	}
	return VoteNeutral
}

func deltaVote(row indicators.FeatureSet) VoteSide {
	d, ok := row.Value(indicators.KeyDelta)
	switch {
	case !ok:
		return VoteNeutral
	case d > 0:
		return VoteBuy
	case d < 0:
		return VoteSell
	}
	return VoteNeutral
}
