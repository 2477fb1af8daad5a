package strategy

import (
	"fmt"

	"metron-core/internal/analysis"
	"metron-core/internal/market"
)

// WaitVerdict is the final verdict of a decision that does not trade.
const WaitVerdict = "WAIT"

// Check names the gate that rejected a decision.
type Check string

const (
	CheckNone    Check = ""
	CheckRegime  Check = "regime"
	CheckScore   Check = "score"
	CheckSpecial Check = "special_logic"
)

// Decision is the outcome of applying a mode to a signal and regime.
type Decision struct {
	Mode         Mode             `json:"mode"`
	Strategy     Mode             `json:"strategy"` // resolved mode, differs from Mode under Adaptive
	ShouldTrade  bool             `json:"should_trade"`
	Reason       string           `json:"reason"`
	FinalVerdict string           `json:"final_verdict"`
	Check        Check            `json:"failed_check,omitempty"`
	Score        int              `json:"score"`
	Verdict      analysis.Verdict `json:"verdict"`
	Regime       market.Regime    `json:"regime"`
}

// Catalog resolves modes to configs, applying any overrides on top of the
// built-in definitions.
type Catalog struct {
	overrides map[Mode]Override
}

// Override replaces parts of a built-in mode definition.
type Override struct {
	MinScore       *int            `yaml:"min_score"`
	AllowedRegimes []market.Regime `yaml:"allowed_regimes"`
	AllRegimes     bool            `yaml:"all_regimes"`
}

func NewCatalog(overrides map[Mode]Override) *Catalog {
	return &Catalog{overrides: overrides}
}

// Config returns the effective definition of m.
func (c *Catalog) Config(m Mode) Config {
	cfg := baseConfig(m)
	if c == nil {
		return cfg
	}
	if o, ok := c.overrides[m]; ok {
		if o.MinScore != nil {
			cfg.MinScore = *o.MinScore
		}
		switch {
		case o.AllRegimes:
			cfg.AllowedRegimes = nil
		case len(o.AllowedRegimes) > 0:
			cfg.AllowedRegimes = o.AllowedRegimes
		}
	}
	return cfg
}

// Configs lists the effective definition of every mode.
func (c *Catalog) Configs() []Config {
	out := make([]Config, 0, len(Modes))
	for _, m := range Modes {
		out = append(out, c.Config(m))
	}
	return out
}

// Decide is pure: the same inputs always give the same Decision.
// Checks run in order regime, score, special logic; the first failure is
// reported in Reason and Check.
func (c *Catalog) Decide(sig analysis.SignalResult, regime market.Regime, mode Mode) Decision {
	resolved := mode
	if mode == Adaptive {
		resolved = AdaptiveMode(regime)
	}
	cfg := c.Config(resolved)

	d := Decision{
		Mode:         mode,
		Strategy:     resolved,
		Score:        sig.Score,
		Verdict:      sig.Verdict,
		Regime:       regime,
		FinalVerdict: WaitVerdict,
	}

	if !cfg.Allows(regime) {
		d.Check = CheckRegime
		d.Reason = fmt.Sprintf("regime %s not allowed for %s", regime, resolved)
		return d
	}
	if abs(sig.Score) < cfg.MinScore {
		d.Check = CheckScore
		d.Reason = fmt.Sprintf("score %d below %s minimum %d", sig.Score, resolved, cfg.MinScore)
		return d
	}
	if reason, ok := specialVeto(cfg.Special, sig.Score, regime); ok {
		d.Check = CheckSpecial
		d.Reason = reason
		return d
	}

	d.ShouldTrade = true
	d.FinalVerdict = string(sig.Verdict)
	d.Reason = fmt.Sprintf("%s accepted score %d in %s", resolved, sig.Score, regime)
	return d
}

// Decide applies the built-in catalog.
func Decide(sig analysis.SignalResult, regime market.Regime, mode Mode) Decision {
	return (*Catalog)(nil).Decide(sig, regime, mode)
}

func specialVeto(logic SpecialLogic, score int, regime market.Regime) (string, bool) {
	if logic != TrendOnly {
		return "", false
	}
	switch {
	case regime == market.Markup && score < 0:
		return "trend filter: no shorts during Markup", true
	case regime == market.Markdown && score > 0:
		return "trend filter: no longs during Markdown", true
	}
	return "", false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
