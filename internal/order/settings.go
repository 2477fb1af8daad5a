package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"metron-core/pkg/db"
)

// Settings-table keys for the trading configuration.
const (
	SettingRiskPercentage = "risk_percentage"
	SettingPaperTrading   = "paper_trading"
)

// Configure validates, persists and then applies the risk percentage and
// paper flag.
func (e *Executor) Configure(ctx context.Context, riskPct float64, paper bool) (Config, error) {
	if riskPct <= 0 || riskPct > 100 {
		return e.Config(), fmt.Errorf("%w: got %v", ErrInvalidRisk, riskPct)
	}
	if err := e.ledger.SetSetting(ctx, SettingRiskPercentage, strconv.FormatFloat(riskPct, 'f', -1, 64)); err != nil {
		return e.Config(), fmt.Errorf("persist risk percentage: %w", err)
	}
	if err := e.ledger.SetSetting(ctx, SettingPaperTrading, strconv.FormatBool(paper)); err != nil {
		return e.Config(), fmt.Errorf("persist paper flag: %w", err)
	}

	e.cfgMu.Lock()
	e.cfg.RiskPercentage = riskPct
	e.cfg.Paper = paper
	cfg := e.cfg
	e.cfgMu.Unlock()

	e.logger.Info().Float64("risk_pct", riskPct).Bool("paper", paper).Msg("trading config updated")
	return cfg, nil
}

// LoadSettings restores persisted values over the startup config. Missing
// or malformed values keep the startup value.
func (e *Executor) LoadSettings(ctx context.Context) error {
	risk, err := e.ledger.GetSetting(ctx, SettingRiskPercentage)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("load risk percentage: %w", err)
	}
	paper, err := e.ledger.GetSetting(ctx, SettingPaperTrading)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("load paper flag: %w", err)
	}

	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	if v, err := strconv.ParseFloat(risk, 64); err == nil && v > 0 && v <= 100 {
		e.cfg.RiskPercentage = v
	}
	if v, err := strconv.ParseBool(paper); err == nil {
		e.cfg.Paper = v
	}
	return nil
}
