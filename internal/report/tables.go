// Package report renders cycle reports, rankings and ledgers as console
// tables and exports them as CSV, JSON and xlsx.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func pct(v float64) string   { return fmt.Sprintf("%.2f%%", v*100) }
func money(v float64) string { return fmt.Sprintf("$%.2f", v) }

// Equity is cash plus the mark-to-market value of every open position.
func Equity(st domain.LedgerState) float64 {
	eq := st.Cash
	for _, p := range st.Positions {
		eq += p.MarketValue()
	}
	return eq
}

// CycleTable prints one row per strategy of a cycle report.
func CycleTable(w io.Writer, rep *domain.CycleReport) {
	status := "SUCCEEDED"
	switch {
	case rep.Aborted:
		status = "ABORTED"
	case !rep.Succeeded:
		status = "FAILED"
	}
	t := newTable(w, fmt.Sprintf("CYCLE %s  %s  %s", rep.CycleID, rep.AsOf.Format("2006-01-02 15:04 MST"), status))
	t.AppendHeader(table.Row{"Strategy", "Status", "Recs", "No-ops", "Sized", "Submitted", "Filled", "Closed", "Conflicts", "Equity", "Error"})
	for _, r := range rep.Results {
		errText := r.Error
		if r.ErrorKind != "" {
			errText = r.ErrorKind + ": " + r.Error
		}
		t.AppendRow(table.Row{
			r.StrategyID, r.Status, r.Recommendations, r.NoOps, r.Sized,
			r.Submitted, r.Filled, r.Closed, r.Conflicts, money(r.Equity), errText,
		})
	}
	var rejected []string
	for _, r := range rep.Results {
		for _, rj := range r.Rejections {
			rejected = append(rejected, fmt.Sprintf("%s %s (%s)", r.StrategyID, rj.Ticker, rj.Kind))
		}
	}
	if len(rejected) > 0 {
		t.AppendFooter(table.Row{"Rejected", strings.Join(rejected, ", ")})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, Align: text.AlignRight},
		{Number: 11, WidthMax: 60},
	})
	t.Render()
}

// RankingTable prints a ranked comparison of strategy metrics.
func RankingTable(w io.Writer, ranked []analytics.Ranked, metric string) {
	t := newTable(w, "STRATEGY RANKING BY "+strings.ToUpper(metric))
	t.AppendHeader(table.Row{"#", "Strategy", metric, "Return", "Ann. Return", "Sharpe", "Sortino", "Max DD", "Win Rate", "Trades", "Final Equity"})
	for _, r := range ranked {
		m := r.Metrics
		t.AppendRow(table.Row{
			r.Rank, m.StrategyID, fmt.Sprintf("%.4f", r.Value),
			pct(m.TotalReturn), pct(m.AnnualizedReturn),
			fmt.Sprintf("%.2f", m.SharpeRatio), fmt.Sprintf("%.2f", m.SortinoRatio),
			pct(m.MaxDrawdown), pct(m.WinRate), m.TotalTrades, money(m.FinalEquity),
		})
	}
	if len(ranked) == 0 {
		t.AppendRow(table.Row{"-", "no strategy has completed a successful cycle"})
	}
	t.Render()
}

// LedgerTable prints balances and positions for each ledger.
func LedgerTable(w io.Writer, states []domain.LedgerState) {
	t := newTable(w, "LEDGERS")
	t.AppendHeader(table.Row{"Strategy", "Cash", "Equity", "Return", "Positions", "Open Orders", "Cycles", "Paused"})
	for _, st := range states {
		eq := Equity(st)
		var ret float64
		if st.StartingCapital > 0 {
			ret = eq/st.StartingCapital - 1
		}
		open := 0
		for _, o := range st.Orders {
			if o.IsOpen() {
				open++
			}
		}
		t.AppendRow(table.Row{st.StrategyID, money(st.Cash), money(eq), pct(ret), holdings(st), open, st.SuccessfulCycles, st.Paused})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 5, WidthMax: 50},
	})
	t.Render()
}

func holdings(st domain.LedgerState) string {
	if len(st.Positions) == 0 {
		return "-"
	}
	tickers := make([]string, 0, len(st.Positions))
	for t := range st.Positions {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	parts := make([]string, 0, len(tickers))
	for _, tk := range tickers {
		p := st.Positions[tk]
		parts = append(parts, fmt.Sprintf("%s %s %d", p.Side, tk, p.Quantity))
	}
	return strings.Join(parts, ", ")
}

// MetricsTable prints the full metrics of one strategy.
func MetricsTable(w io.Writer, m *analytics.PerformanceMetrics) {
	t := newTable(w, "PERFORMANCE "+string(m.StrategyID))
	t.AppendRows([]table.Row{
		{"Starting Capital", money(m.StartingCapital)},
		{"Final Equity", money(m.FinalEquity)},
		{"Days", m.Days},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total Return", pct(m.TotalReturn)},
		{"Annualized Return", pct(m.AnnualizedReturn)},
		{"Volatility", pct(m.Volatility)},
		{"Sharpe", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"Sortino", fmt.Sprintf("%.2f", m.SortinoRatio)},
		{"Calmar", fmt.Sprintf("%.2f", m.CalmarRatio)},
		{"Max Drawdown", pct(m.MaxDrawdown)},
		{"VaR 95%", pct(m.VaR95)},
		{"CVaR 95%", pct(m.CVaR95)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades", fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades)},
		{"Win Rate", pct(m.WinRate)},
		{"Profit Factor", fmt.Sprintf("%.2f", m.ProfitFactor)},
		{"Expectancy", money(m.Expectancy)},
		{"Avg Trade Duration", m.AverageTradeDuration.Round(time.Hour).String()},
	})
	if len(m.ExitReasons) > 0 {
		reasons := make([]string, 0, len(m.ExitReasons))
		for state, n := range m.ExitReasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", state, n))
		}
		sort.Strings(reasons)
		t.AppendRow(table.Row{"Exit Reasons", strings.Join(reasons, " ")})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, Align: text.AlignRight},
	})
	t.Render()
}
