package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metron-core/internal/analysis"
	"metron-core/internal/market"
	"metron-core/pkg/db"
)

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", db.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func signal(score int) analysis.SignalResult {
	return analysis.SignalResult{Score: score, Verdict: analysis.DefaultPolicy.VerdictFor(score)}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"balanced":     Balanced,
		"Ultra-Safe":   UltraSafe,
		"ultra_safe":   UltraSafe,
		"Scalper Pro":  ScalperPro,
		"SNIPE_HUNTER": SnipeHunter,
		"adaptive":     Adaptive,
		"AI-Adaptive":  Adaptive,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("yolo")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestModeTextRoundTrip(t *testing.T) {
	for _, m := range Modes {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var back Mode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, m, back)
	}
	_, err := Mode(99).MarshalText()
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestDecideBalancedMarkupTrades(t *testing.T) {
	d := Decide(signal(7), market.Markup, Balanced)

	assert.True(t, d.ShouldTrade)
	assert.Equal(t, Balanced, d.Strategy)
	assert.Equal(t, string(analysis.StrongBuy), d.FinalVerdict)
	assert.Equal(t, CheckNone, d.Check)
}

func TestDecideRegimeCheckRunsFirst(t *testing.T) {
	d := Decide(signal(3), market.Distribution, Conservative)

	assert.False(t, d.ShouldTrade)
	assert.Equal(t, CheckRegime, d.Check)
	assert.Contains(t, d.Reason, "Distribution")
	assert.Equal(t, WaitVerdict, d.FinalVerdict)
}

func TestDecideScoreThreshold(t *testing.T) {
	d := Decide(signal(3), market.Markup, Balanced)
	assert.False(t, d.ShouldTrade)
	assert.Equal(t, CheckScore, d.Check)

	d = Decide(signal(-4), market.Markup, Balanced)
	assert.True(t, d.ShouldTrade, "threshold applies to |score|")
	assert.Equal(t, string(analysis.Sell), d.FinalVerdict)
}

func TestDecideTrendOnlyVeto(t *testing.T) {
	d := Decide(signal(-5), market.Markup, TrendSurfer)
	assert.False(t, d.ShouldTrade)
	assert.Equal(t, CheckSpecial, d.Check)

	d = Decide(signal(5), market.Markdown, TrendSurfer)
	assert.False(t, d.ShouldTrade)
	assert.Equal(t, CheckSpecial, d.Check)

	d = Decide(signal(5), market.Markup, TrendSurfer)
	assert.True(t, d.ShouldTrade)
}

func TestDecideAdaptiveResolves(t *testing.T) {
	cases := map[market.Regime]Mode{
		market.Consolidation: ScalperPro,
		market.Markup:        TrendSurfer,
		market.Markdown:      TrendSurfer,
		market.Accumulation:  SnipeHunter,
		market.Distribution:  SnipeHunter,
	}
	for regime, want := range cases {
		d := Decide(signal(6), regime, Adaptive)
		assert.Equal(t, Adaptive, d.Mode)
		assert.Equal(t, want, d.Strategy, regime)
	}
	assert.Equal(t, Balanced, AdaptiveMode(market.Regime("unknown")))
}

func TestDecideIsDeterministic(t *testing.T) {
	sig := signal(5)
	for _, m := range Modes {
		for _, r := range market.Regimes {
			assert.Equal(t, Decide(sig, r, m), Decide(sig, r, m))
		}
	}
}

func TestCatalogOverrides(t *testing.T) {
	one := 1
	c := NewCatalog(map[Mode]Override{
		Conservative: {MinScore: &one, AllRegimes: true},
		Balanced:     {AllowedRegimes: []market.Regime{market.Markdown}},
	})

	assert.True(t, c.Decide(signal(1), market.Distribution, Conservative).ShouldTrade)
	assert.Equal(t, CheckRegime, c.Decide(signal(7), market.Markup, Balanced).Check)
	assert.Len(t, c.Configs(), len(Modes))
}

func TestManagerSetModePersistsFirst(t *testing.T) {
	store := &memSettings{}
	m := NewManager(store, NewCatalog(nil), zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, Balanced, m.Mode())

	mode, err := m.SetMode(ctx, "swing_master")
	require.NoError(t, err)
	assert.Equal(t, SwingMaster, mode)
	assert.Equal(t, "Swing Master", store.values[SettingKey])

	_, err = m.SetMode(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, SwingMaster, m.Mode(), "invalid name leaves mode unchanged")

	store.err = errors.New("disk full")
	_, err = m.SetMode(ctx, "aggressive")
	assert.Error(t, err)
	assert.Equal(t, SwingMaster, m.Mode(), "failed persist leaves mode unchanged")
}

func TestManagerLoad(t *testing.T) {
	ctx := context.Background()

	m := NewManager(&memSettings{}, NewCatalog(nil), zerolog.Nop())
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, Balanced, m.Mode())

	m = NewManager(&memSettings{values: map[string]string{SettingKey: "Ultra-Safe"}}, NewCatalog(nil), zerolog.Nop())
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, UltraSafe, m.Mode())

	m = NewManager(&memSettings{values: map[string]string{SettingKey: "garbage"}}, NewCatalog(nil), zerolog.Nop())
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, Balanced, m.Mode())
}

func TestParseConfig(t *testing.T) {
	body := []byte(`
modes:
  conservative:
    min_score: 5
  scalper_pro:
    allowed_regimes: [Consolidation]
signal:
  trend_weight: 4
  strong_threshold: 8
`)
	catalog, policy, err := ParseConfig(body)
	require.NoError(t, err)

	assert.Equal(t, 5, catalog.Config(Conservative).MinScore)
	assert.Equal(t, []market.Regime{market.Consolidation}, catalog.Config(ScalperPro).AllowedRegimes)
	assert.Equal(t, 4, policy.TrendWeight)
	assert.Equal(t, 8, policy.StrongThreshold)
	assert.Equal(t, analysis.DefaultPolicy.RSIWeight, policy.RSIWeight, "unset fields keep defaults")
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	_, _, err := ParseConfig([]byte("modes:\n  turbo:\n    min_score: 1\n"))
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, _, err = ParseConfig([]byte("modes:\n  balanced:\n    allowed_regimes: [Moon]\n"))
	assert.Error(t, err)

	_, _, err = ParseConfig([]byte("signal:\n  threshold: 5\n  strong_threshold: 3\n"))
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	catalog, policy, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, analysis.DefaultPolicy, policy)
	assert.Equal(t, 4, catalog.Config(Balanced).MinScore)

	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signal:\n  threshold: 3\n"), 0o644))
	_, policy, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, policy.Threshold)
}
