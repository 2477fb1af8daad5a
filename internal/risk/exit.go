// Package risk holds the exit rules applied to long positions.
package risk

import "fmt"

// ExitReason names the rule that closed a position.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitSignal     ExitReason = "signal"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// ExitRules close a long position when the unrealised PnL leaves the
// [-StopLossPct, TakeProfitPct] band or the signal score falls to ExitScore.
type ExitRules struct {
	TakeProfitPct float64 `json:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	ExitScore     int     `json:"exit_score"`
}

var DefaultExitRules = ExitRules{TakeProfitPct: 2, StopLossPct: 1, ExitScore: -2}

func (r ExitRules) Validate() error {
	if r.TakeProfitPct <= 0 {
		return fmt.Errorf("take profit must be positive, got %v", r.TakeProfitPct)
	}
	if r.StopLossPct <= 0 || r.StopLossPct >= 100 {
		return fmt.Errorf("stop loss must be in (0, 100), got %v", r.StopLossPct)
	}
	return nil
}

// Position is an open long tracked against the rules.
type Position struct {
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
}

// Open derives the protective levels for an entry.
func (r ExitRules) Open(entry float64) Position {
	return Position{
		EntryPrice: entry,
		StopLoss:   entry * (1 - r.StopLossPct/100),
		TakeProfit: entry * (1 + r.TakeProfitPct/100),
	}
}

// PnLPct is the unrealised return of the position at price, in percent.
func (p Position) PnLPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// Check returns the first rule that fires at price, signal first.
func (r ExitRules) Check(pos Position, price float64, score int) ExitReason {
	if score <= r.ExitScore {
		return ExitSignal
	}
	pnl := pos.PnLPct(price)
	if pnl < -r.StopLossPct {
		return ExitStopLoss
	}
	if pnl > r.TakeProfitPct {
		return ExitTakeProfit
	}
	return ExitNone
}
