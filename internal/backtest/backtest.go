// Package backtest replays candle history through the live analysis,
// decision and exit logic with a simulated long-only account.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"metron-core/internal/aggregator"
	"metron-core/internal/analysis"
	"metron-core/internal/indicators"
	"metron-core/internal/market"
	"metron-core/internal/risk"
	"metron-core/internal/strategy"
)

// ErrNotEnoughBars means the history does not extend past the warmup.
var ErrNotEnoughBars = errors.New("backtest: not enough bars after warmup")

// Params configure a run. Zero values take the defaults.
type Params struct {
	Mode             strategy.Mode `json:"mode"`
	Timeframe        time.Duration `json:"timeframe"`
	FeeRate          float64       `json:"fee_rate"`
	Slippage         float64       `json:"slippage"`
	InitialBalance   float64       `json:"initial_balance"`
	PositionFraction float64       `json:"position_fraction"`
	TakeProfitPct    float64       `json:"take_profit_pct"`
	StopLossPct      float64       `json:"stop_loss_pct"`
	ExitScore        *int          `json:"exit_score,omitempty"`
	Warmup           int           `json:"warmup"`
	// AnnualizationFactor is the number of bars per year used by Sharpe.
	// Defaults to a calendar year of Timeframe bars.
	AnnualizationFactor float64 `json:"annualization_factor"`

	Catalog *strategy.Catalog    `json:"-"`
	Policy  *analysis.VotePolicy `json:"-"`
}

func (p Params) withDefaults() Params {
	if p.Timeframe <= 0 {
		p.Timeframe = time.Minute
	}
	if p.InitialBalance <= 0 {
		p.InitialBalance = 1000
	}
	if p.PositionFraction <= 0 {
		p.PositionFraction = 0.95
	}
	if p.TakeProfitPct <= 0 {
		p.TakeProfitPct = risk.DefaultExitRules.TakeProfitPct
	}
	if p.StopLossPct <= 0 {
		p.StopLossPct = risk.DefaultExitRules.StopLossPct
	}
	if p.ExitScore == nil {
		score := risk.DefaultExitRules.ExitScore
		p.ExitScore = &score
	}
	if p.Warmup <= 0 {
		p.Warmup = 50
	}
	if p.AnnualizationFactor <= 0 {
		p.AnnualizationFactor = float64(365*24*time.Hour) / float64(p.Timeframe)
	}
	if p.Policy == nil {
		policy := analysis.DefaultPolicy
		p.Policy = &policy
	}
	return p
}

func (p Params) validate() error {
	if p.PositionFraction > 1 {
		return fmt.Errorf("backtest: position fraction %v above 1", p.PositionFraction)
	}
	if p.FeeRate < 0 || p.FeeRate >= 1 {
		return fmt.Errorf("backtest: fee rate %v out of range", p.FeeRate)
	}
	if p.Slippage < 0 || p.Slippage >= 1 {
		return fmt.Errorf("backtest: slippage %v out of range", p.Slippage)
	}
	return p.rules().Validate()
}

func (p Params) rules() risk.ExitRules {
	return risk.ExitRules{TakeProfitPct: p.TakeProfitPct, StopLossPct: p.StopLossPct, ExitScore: *p.ExitScore}
}

// Trade is one completed round trip.
type Trade struct {
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice float64         `json:"entry_price"`
	ExitPrice  float64         `json:"exit_price"`
	Amount     float64         `json:"amount"`
	Fees       float64         `json:"fees"`
	Profit     float64         `json:"profit"`
	ProfitPct  float64         `json:"profit_pct"`
	Reason     risk.ExitReason `json:"reason"`
	Strategy   string          `json:"strategy"`
}

// EquityPoint is the marked-to-market account value after a bar.
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

// Result is the output of Run.
type Result struct {
	Symbol    string        `json:"symbol"`
	Mode      strategy.Mode `json:"mode"`
	Timeframe string        `json:"timeframe"`
	Bars      int           `json:"bars"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Trades    []Trade       `json:"trades"`
	Equity    []EquityPoint `json:"equity"`
	Metrics   Metrics       `json:"metrics"`
}

type openPosition struct {
	risk.Position
	entryTime time.Time
	amount    float64
	cost      float64
	entryFee  float64
	strategy  string
}

// Run replays 1-minute bars. The bars are resampled to p.Timeframe, the
// indicator set is computed once, and every bar after the warmup is
// classified, scored and decided exactly as the live engine would. Entries
// happen on BUY or STRONG_BUY final verdicts; the open position is always
// closed on the final bar.
func Run(bars []market.Candle, p Params) (Result, error) {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return Result{}, err
	}

	series, err := aggregator.Aggregate(bars, p.Timeframe)
	if err != nil {
		return Result{}, fmt.Errorf("backtest: %w", err)
	}
	if len(series) <= p.Warmup {
		return Result{}, fmt.Errorf("%w: %d bars, warmup %d", ErrNotEnoughBars, len(series), p.Warmup)
	}

	rows := indicators.Apply(series)
	rules := p.rules()
	last := len(rows) - 1

	res := Result{
		Symbol:    series[0].Symbol,
		Mode:      p.Mode,
		Timeframe: p.Timeframe.String(),
		Bars:      len(series),
		From:      series[p.Warmup].OpenTime,
		To:        series[last].OpenTime,
		Equity:    []EquityPoint{{Time: series[p.Warmup].OpenTime.Add(-p.Timeframe), Balance: p.InitialBalance}},
	}

	cash := p.InitialBalance
	var pos *openPosition

	for i := p.Warmup; i <= last; i++ {
		window := rows[:i+1]
		bar := rows[i]
		sig := p.Policy.Score(window)
		decision := p.Catalog.Decide(sig, analysis.Classify(window), p.Mode)

		if pos != nil {
			reason := rules.Check(pos.Position, bar.Close, sig.Score)
			if reason == risk.ExitNone && i == last {
				reason = risk.ExitEndOfData
			}
			if reason != risk.ExitNone {
				trade := closePosition(pos, bar.Candle, p, reason)
				cash += pos.cost + pos.entryFee + trade.Profit
				res.Trades = append(res.Trades, trade)
				pos = nil
			}
		} else if i < last && decision.ShouldTrade && analysis.Verdict(decision.FinalVerdict).IsBuy() {
			notional := cash * p.PositionFraction
			fill := bar.Close * (1 + p.Slippage)
			fee := notional * p.FeeRate
			pos = &openPosition{
				Position:  rules.Open(fill),
				entryTime: bar.OpenTime,
				amount:    notional / fill,
				cost:      notional,
				entryFee:  fee,
				strategy:  decision.Strategy.String(),
			}
			cash -= notional + fee
		}

		equity := cash
		if pos != nil {
			equity += pos.amount * bar.Close
		}
		res.Equity = append(res.Equity, EquityPoint{Time: bar.OpenTime, Balance: equity})
	}

	res.Metrics = computeMetrics(res.Trades, res.Equity, p.InitialBalance, cash, p.AnnualizationFactor)
	return res, nil
}

func closePosition(pos *openPosition, bar market.Candle, p Params, reason risk.ExitReason) Trade {
	fill := bar.Close * (1 - p.Slippage)
	proceeds := pos.amount * fill
	exitFee := proceeds * p.FeeRate
	profit := (proceeds - exitFee) - (pos.cost + pos.entryFee)
	return Trade{
		EntryTime:  pos.entryTime,
		ExitTime:   bar.OpenTime,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  fill,
		Amount:     pos.amount,
		Fees:       pos.entryFee + exitFee,
		Profit:     profit,
		ProfitPct:  profit / (pos.cost + pos.entryFee) * 100,
		Reason:     reason,
		Strategy:   pos.strategy,
	}
}
