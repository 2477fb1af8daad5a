package backtest

import "math"

// ProfitFactorCap is reported when a run has winners and no losers.
const ProfitFactorCap = 999.0

// Metrics summarise a run. FinalBalance always equals
// InitialBalance + NetProfit.
type Metrics struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	NetProfit      float64 `json:"net_profit"`
	NetProfitPct   float64 `json:"net_profit_pct"`
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	TotalFees      float64 `json:"total_fees"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Sharpe         float64 `json:"sharpe"`
}

func computeMetrics(trades []Trade, equity []EquityPoint, initial, final, annualization float64) Metrics {
	m := Metrics{
		InitialBalance: initial,
		FinalBalance:   final,
		NetProfit:      final - initial,
		Trades:         len(trades),
	}
	m.NetProfitPct = m.NetProfit / initial * 100

	for _, t := range trades {
		m.TotalFees += t.Fees
		if t.Profit > 0 {
			m.Wins++
			m.GrossProfit += t.Profit
		} else {
			m.Losses++
			m.GrossLoss -= t.Profit
		}
	}
	if m.Trades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.Trades) * 100
	}
	switch {
	case m.GrossLoss > 0:
		m.ProfitFactor = math.Min(m.GrossProfit/m.GrossLoss, ProfitFactorCap)
	case m.GrossProfit > 0:
		m.ProfitFactor = ProfitFactorCap
	}

	m.MaxDrawdownPct = maxDrawdown(equity)
	m.Sharpe = sharpe(equity, annualization)
	return m
}

func maxDrawdown(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak > 0 {
			if dd := (peak - p.Balance) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe is mean over sample stdev of per-bar returns, annualised.
func sharpe(equity []EquityPoint, annualization float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Balance
		if prev == 0 {
			continue
		}
		returns = append(returns, equity[i].Balance/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(annualization)
}
