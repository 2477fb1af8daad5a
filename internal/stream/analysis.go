package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metron-core/internal/analysis"
	"metron-core/internal/events"
	"metron-core/internal/order"
	"metron-core/internal/strategy"
)

// ErrAnalysisBusy is returned when a cycle is already in flight.
var ErrAnalysisBusy = errors.New("analysis already running")

// Report is the outcome of one analysis cycle, broadcast as EventAnalysis.
type Report struct {
	Symbol    string            `json:"symbol"`
	Price     float64           `json:"price"`
	Time      time.Time         `json:"time"`
	Timeframe string            `json:"timeframe"`
	Analysis  analysis.Result   `json:"analysis"`
	Decision  strategy.Decision `json:"decision"`
	Trade     *order.Trade      `json:"trade,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Note      string            `json:"note,omitempty"`
}

// RunAnalysis runs one cycle over a snapshot of the buffer: aggregate,
// indicators, classify and score, decide, and execute when the decision
// allows it and no position is open for the symbol. At most one cycle runs
// at a time; a concurrent call returns ErrAnalysisBusy.
func (e *Engine) RunAnalysis(ctx context.Context) (Report, error) {
	if !e.analysisMu.TryLock() {
		e.deps.Metrics.AnalysisSkipped()
		return Report{}, ErrAnalysisBusy
	}
	defer e.analysisMu.Unlock()

	start := e.now()
	bars, err := e.agg.Aggregate(e.Snapshot(), e.cfg.Timeframe)
	if err != nil {
		return Report{}, fmt.Errorf("aggregate %s: %w", e.cfg.Timeframe, err)
	}
	rows := e.indicators.Apply(bars)
	res := e.deps.Analyzer.Analyze(rows)
	decision := e.deps.Strategy.Decide(res.Signal, res.Regime)

	latest := bars[len(bars)-1]
	report := Report{
		Symbol:    e.cfg.Symbol,
		Price:     latest.Close,
		Time:      start.UTC(),
		Timeframe: e.cfg.Timeframe.String(),
		Analysis:  res,
		Decision:  decision,
	}

	if decision.ShouldTrade {
		e.execute(ctx, &report)
	}

	e.deps.Bus.Publish(events.EventAnalysis, report)
	if e.deps.Alerts != nil {
		if _, err := e.deps.Alerts.SendAlert(ctx, string(res.Signal.Verdict), e.cfg.Symbol, report.Price, decision.Reason); err != nil {
			e.logger.Warn().Err(err).Msg("signal alert failed")
		}
	}

	e.reportMu.Lock()
	e.report = &report
	e.reportMu.Unlock()

	e.deps.Metrics.AnalysisDone(e.now().Sub(start), res.Signal.Score)
	e.logger.Info().
		Str("regime", string(res.Regime)).
		Int("score", res.Signal.Score).
		Str("verdict", string(res.Signal.Verdict)).
		Str("final", decision.FinalVerdict).
		Str("reason", decision.Reason).
		Msg("analysis complete")
	return report, nil
}

func (e *Engine) execute(ctx context.Context, report *Report) {
	if e.deps.Executor.HasOpenPosition(e.cfg.Symbol) {
		report.Note = "position already open"
		return
	}
	result, err := e.deps.Executor.Execute(ctx, order.Request{
		Decision: report.Decision,
		Symbol:   e.cfg.Symbol,
		Price:    report.Price,
	})
	if result.Trade.OrderID != "" {
		trade := result.Trade
		report.Trade = &trade
		report.Degraded = result.Degraded
		e.deps.Bus.Publish(events.EventTrade, trade)
	}
	if result.Degraded {
		e.deps.Bus.Publish(events.EventAlert, events.Alert{
			Level:   "warning",
			Source:  "executor",
			Message: fmt.Sprintf("trade %s executed but not recorded in the ledger", result.Trade.OrderID),
		})
	}
	if err != nil {
		report.Note = err.Error()
		e.logger.Warn().Err(err).Msg("execution failed")
	}
}

// LastReport returns the most recent completed analysis.
func (e *Engine) LastReport() (Report, bool) {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	if e.report == nil {
		return Report{}, false
	}
	return *e.report, true
}
