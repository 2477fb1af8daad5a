// Package analysis turns indicator rows into a market regime and a scored signal.
package analysis

import (
	"sync"
	"time"

	"metron-core/internal/indicators"
	"metron-core/internal/market"
)

// Result is one analysis of the latest bar.
type Result struct {
	Regime     market.Regime         `json:"regime"`
	Signal     SignalResult          `json:"signal"`
	Latest     indicators.FeatureSet `json:"latest"`
	Watermark  time.Time             `json:"watermark"`
	ComputedAt time.Time             `json:"computed_at"`
	Cached     bool                  `json:"cached"`
}

// Analyzer classifies and scores, reusing the previous result while the
// newest bar (the watermark) is unchanged and the result is younger than TTL.
type Analyzer struct {
	Policy VotePolicy
	TTL    time.Duration

	now    func() time.Time
	mu     sync.Mutex
	cached *Result
}

func NewAnalyzer(policy VotePolicy, ttl time.Duration) *Analyzer {
	return &Analyzer{Policy: policy, TTL: ttl, now: time.Now}
}

// Analyze returns the regime and signal for the latest row of rows.
func (a *Analyzer) Analyze(rows []indicators.FeatureSet) Result {
	now := a.now()
	var watermark time.Time
	if len(rows) > 0 {
		watermark = rows[len(rows)-1].OpenTime
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if c := a.cached; c != nil && a.TTL > 0 && c.Watermark.Equal(watermark) && now.Sub(c.ComputedAt) < a.TTL {
		hit := *c
		hit.Cached = true
		return hit
	}

	res := Result{
		Regime:     Classify(rows),
		Signal:     a.Policy.Score(rows),
		Watermark:  watermark,
		ComputedAt: now,
	}
	if len(rows) > 0 {
		res.Latest = rows[len(rows)-1]
		res.Latest.Regime = res.Regime
	}
	a.cached = &res
	return res
}

// Invalidate drops the cached result.
func (a *Analyzer) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}
