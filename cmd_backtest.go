package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/report"
	"github.com/winniepooh001/GPTComparison/internal/strategy/backtesting"
	"github.com/winniepooh001/GPTComparison/internal/utils"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay the engine over historical daily bars with paper accounts",
	Long: `Replays rebalance cycles over historical bars. Each trading day feeds the day's
bars to reconciliation and runs the expiration sweep; cadence days also run a full
cycle. Only the rule-based strategies run unless --with-llm is given.

The bars file is a CSV with time,ticker,open,high,low,close,volume columns, as
written by fetch_bars.

Examples:
  rebalancer backtest --bars data/bars.csv --from 2024-01-01 --to 2024-06-30
  rebalancer backtest --bars data/bars.csv --cadence daily --export exports`,
	RunE: runBacktest,
}

var (
	btBars    string
	btFrom    string
	btTo      string
	btWithLLM bool
	btTickers []string
	btExport  string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&btBars, "bars", "", "CSV file of daily bars (required)")
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "First day (YYYY-MM-DD, default one year before --to)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "Last day (YYYY-MM-DD, default today)")
	backtestCmd.Flags().BoolVar(&btWithLLM, "with-llm", false, "Also run LLM strategies that have an API key")
	backtestCmd.Flags().StringSliceVar(&btTickers, "tickers", nil, "Universe (default every ticker in the bars file)")
	backtestCmd.Flags().StringVar(&btExport, "export", "", "Also export the results into this directory")
	backtestCmd.MarkFlagRequired("bars")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	// Backtests never touch a brokerage account.
	if err := cmd.Flags().Set("dry-run", "true"); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(overrides)
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx := cmd.Context()

	to, err := parseTime(btTo, time.Now().UTC())
	if err != nil {
		return err
	}
	from, err := parseTime(btFrom, to.AddDate(-1, 0, 0))
	if err != nil {
		return err
	}

	bars, err := utils.ReadBarsFromCSV(btBars)
	if err != nil {
		return err
	}
	strategies, err := buildStrategies(cfg, log, btWithLLM)
	if err != nil {
		return err
	}

	res, err := backtesting.Backtest(ctx, strategies, backtesting.NewHistoricalMarket(bars), backtesting.BacktestConfig{
		StartTime: from,
		EndTime:   to.Add(24*time.Hour - time.Nanosecond),
		Engine:    cfg.Engine,
		Tickers:   btTickers,
	}, log)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backtest %s to %s: %d trading days, %d cycles (%d failed)\n",
		from.Format("2006-01-02"), to.Format("2006-01-02"), res.TradingDays, len(res.Cycles), res.FailedCycles)
	report.LedgerTable(out, res.Ledgers)
	report.RankingTable(out, res.Rankings, cfg.Engine.RankingMetric)
	for _, r := range res.Rankings {
		report.MetricsTable(out, r.Metrics)
	}

	if btExport != "" {
		bundle, err := report.NewBundle(res.Ledgers, cfg.Engine.RiskFreeRate, cfg.Engine.RankingMetric, time.Now())
		if err != nil {
			return err
		}
		paths, err := report.Export(btExport, bundle)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Exported: "+strings.Join(paths, ", "))
	}
	return nil
}
