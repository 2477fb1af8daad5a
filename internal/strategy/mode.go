package strategy

import (
	"errors"
	"fmt"
	"strings"

	"metron-core/internal/market"
)

// ErrInvalidMode is returned for names outside the catalog.
var ErrInvalidMode = errors.New("invalid strategy mode")

// Mode is a closed set of strategy modes. Adaptive resolves to a concrete
// mode per decision.
type Mode int

const (
	Balanced Mode = iota
	Conservative
	Aggressive
	UltraSafe
	ScalperPro
	SwingMaster
	SnipeHunter
	TrendSurfer
	Adaptive
)

// Modes lists every selectable mode in display order.
var Modes = []Mode{Conservative, Balanced, Aggressive, UltraSafe, ScalperPro, SwingMaster, SnipeHunter, TrendSurfer, Adaptive}

func (m Mode) String() string {
	switch m {
	case Conservative:
		return "Conservative"
	case Balanced:
		return "Balanced"
	case Aggressive:
		return "Aggressive"
	case UltraSafe:
		return "Ultra-Safe"
	case ScalperPro:
		return "Scalper Pro"
	case SwingMaster:
		return "Swing Master"
	case SnipeHunter:
		return "Snipe Hunter"
	case TrendSurfer:
		return "Trend Surfer"
	case Adaptive:
		return "AI-Adaptive"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// MarshalText lets modes appear by name in JSON and YAML.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) valid() bool {
	return m >= Balanced && m <= Adaptive
}

// ParseMode accepts display names case-insensitively, ignoring spaces,
// dashes and underscores ("ultra_safe", "Scalper Pro", "adaptive").
func ParseMode(name string) (Mode, error) {
	key := normalize(name)
	if key == "adaptive" || key == "aiadaptive" {
		return Adaptive, nil
	}
	for _, m := range Modes {
		if normalize(m.String()) == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, name)
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '-' || r == '_' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SpecialLogic tags a mode with an extra rule. Only TrendOnly can veto.
type SpecialLogic string

const (
	NoSpecial      SpecialLogic = ""
	QuickProfits   SpecialLogic = "Quick_Profits"
	TrendFollowing SpecialLogic = "Trend_Following"
	ReversalHunter SpecialLogic = "Reversal_Hunter"
	TrendOnly      SpecialLogic = "Trend_Only"
)

// Config is the resolved definition of one mode.
type Config struct {
	Mode           Mode            `json:"mode" yaml:"-"`
	MinScore       int             `json:"min_score"`
	AllowedRegimes []market.Regime `json:"allowed_regimes"` // nil means every regime
	Risk           string          `json:"risk"`
	Special        SpecialLogic    `json:"special_logic,omitempty"`
	Description    string          `json:"description"`
}

// Allows reports whether regime is tradable under this config.
func (c Config) Allows(regime market.Regime) bool {
	if c.AllowedRegimes == nil {
		return true
	}
	for _, r := range c.AllowedRegimes {
		if r == regime {
			return true
		}
	}
	return false
}

// baseConfig is the built-in definition of m.
func baseConfig(m Mode) Config {
	switch m {
	case Conservative:
		return Config{Mode: m, MinScore: 6, AllowedRegimes: []market.Regime{market.Markup, market.Accumulation},
			Risk: "Low", Description: "Only trades strong signals in constructive phases"}
	case Aggressive:
		return Config{Mode: m, MinScore: 2, Risk: "High",
			Description: "Trades any confirmed signal in every phase"}
	case UltraSafe:
		return Config{Mode: m, MinScore: 8, AllowedRegimes: []market.Regime{market.Markup},
			Risk: "Very Low", Description: "Near-unanimous signals during markup only"}
	case ScalperPro:
		return Config{Mode: m, MinScore: 3, Risk: "Medium-High", Special: QuickProfits,
			Description: "Frequent small entries in any phase"}
	case SwingMaster:
		return Config{Mode: m, MinScore: 5, AllowedRegimes: []market.Regime{market.Accumulation, market.Markup},
			Risk: "Medium", Special: TrendFollowing, Description: "Rides trends that start from accumulation"}
	case SnipeHunter:
		return Config{Mode: m, MinScore: 4, AllowedRegimes: []market.Regime{market.Distribution, market.Accumulation},
			Risk: "High", Special: ReversalHunter, Description: "Hunts reversals at range extremes"}
	case TrendSurfer:
		return Config{Mode: m, MinScore: 4, AllowedRegimes: []market.Regime{market.Markup, market.Markdown},
			Risk: "Medium", Special: TrendOnly, Description: "Trades only with the prevailing trend"}
	case Adaptive:
		return Config{Mode: m, Risk: "Dynamic", Description: "Picks a mode from the current regime"}
	default:
		return Config{
			Mode:           Balanced,
			MinScore:       4,
			AllowedRegimes: []market.Regime{market.Markup, market.Accumulation, market.Consolidation},
			Risk:           "Medium",
			Description:    "Default trade-off between frequency and quality",
		}
	}
}

// AdaptiveMode picks the concrete mode used for regime when Adaptive is active.
func AdaptiveMode(regime market.Regime) Mode {
	switch regime {
	case market.Consolidation:
		return ScalperPro
	case market.Markup, market.Markdown:
		return TrendSurfer
	case market.Accumulation, market.Distribution:
		return SnipeHunter
	default:
		return Balanced
	}
}
