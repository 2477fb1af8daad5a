package backtest

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// WriteReport renders the trade list and the summary metrics as tables.
func WriteReport(w io.Writer, r Result) error {
	fmt.Fprintf(w, "========================================================\n")
	fmt.Fprintf(w, "  BACKTEST %s  mode=%s  tf=%s\n", r.Symbol, r.Mode, r.Timeframe)
	fmt.Fprintf(w, "  %s to %s (%d bars)\n", r.From.Format("2006-01-02 15:04"), r.To.Format("2006-01-02 15:04"), r.Bars)
	fmt.Fprintf(w, "========================================================\n\n")

	if len(r.Trades) > 0 {
		tbl := tablewriter.NewWriter(w)
		tbl.Header("#", "Entry", "Exit", "Entry $", "Exit $", "Amount", "Fees", "PnL", "PnL %", "Reason")
		for i, t := range r.Trades {
			if err := tbl.Append(
				fmt.Sprintf("%d", i+1),
				t.EntryTime.Format("01-02 15:04"),
				t.ExitTime.Format("01-02 15:04"),
				fmt.Sprintf("%.2f", t.EntryPrice),
				fmt.Sprintf("%.2f", t.ExitPrice),
				fmt.Sprintf("%.6f", t.Amount),
				fmt.Sprintf("%.4f", t.Fees),
				fmt.Sprintf("%.2f", t.Profit),
				fmt.Sprintf("%.2f%%", t.ProfitPct),
				string(t.Reason),
			); err != nil {
				return err
			}
		}
		if err := tbl.Render(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "  no trades\n\n")
	}

	m := r.Metrics
	summary := tablewriter.NewWriter(w)
	summary.Header("Metric", "Value")
	rows := [][]string{
		{"Initial balance", fmt.Sprintf("$%.2f", m.InitialBalance)},
		{"Final balance", fmt.Sprintf("$%.2f", m.FinalBalance)},
		{"Net profit", fmt.Sprintf("$%.2f (%.2f%%)", m.NetProfit, m.NetProfitPct)},
		{"Trades", fmt.Sprintf("%d (%d wins, %d losses)", m.Trades, m.Wins, m.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", m.WinRate)},
		{"Profit factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct)},
		{"Sharpe", fmt.Sprintf("%.2f", m.Sharpe)},
		{"Fees paid", fmt.Sprintf("$%.4f", m.TotalFees)},
	}
	for _, row := range rows {
		if err := summary.Append(row); err != nil {
			return err
		}
	}
	return summary.Render()
}
