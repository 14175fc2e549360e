package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/report"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

var (
	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print ledgers, rankings and performance metrics",
		Long: `Prints every ledger, a ranking of the strategies that completed at least one
successful cycle, and the full metrics of each ranked strategy.

Examples:
  rebalancer report
  rebalancer report --metric max_drawdown
  rebalancer report --strategy Pure-Momentum`,
		RunE: runReport,
	}

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export metrics, rankings, equity history and trades",
		Long: `Writes metrics and rankings as CSV, JSON and xlsx, plus equity history and
trades as CSV.

Examples:
  rebalancer export --dir exports
  rebalancer export --format xlsx`,
		RunE: runExport,
	}

	reportMetric   string
	reportStrategy string
	exportDir      string
	exportFormats  []string
)

func init() {
	rootCmd.AddCommand(reportCmd, exportCmd)

	for _, cmd := range []*cobra.Command{reportCmd, exportCmd} {
		cmd.Flags().StringVar(&reportMetric, "metric", "", "Ranking metric ("+strings.Join(analytics.Metrics, ", ")+"; default from config)")
	}
	reportCmd.Flags().StringVar(&reportStrategy, "strategy", "", "Only show metrics for this strategy")
	exportCmd.Flags().StringVar(&exportDir, "dir", "exports", "Output directory")
	exportCmd.Flags().StringSliceVar(&exportFormats, "format", []string{report.FormatCSV, report.FormatJSON, report.FormatXLSX}, "Export formats")
}

func runReport(cmd *cobra.Command, args []string) error {
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()

	states, err := b.store.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	metric := reportMetric
	if metric == "" {
		metric = b.cfg.Engine.RankingMetric
	}

	if reportStrategy != "" {
		for _, st := range states {
			if strings.EqualFold(string(st.StrategyID), reportStrategy) {
				report.LedgerTable(out, []domain.LedgerState{st})
				report.MetricsTable(out, analytics.AnalyzePerformance(analytics.FromLedger(st, b.cfg.Engine.RiskFreeRate)))
				return nil
			}
		}
		return fmt.Errorf("no ledger for strategy %q", reportStrategy)
	}

	report.LedgerTable(out, states)
	ranked, err := analytics.Compare(states, b.cfg.Engine.RiskFreeRate, metric)
	if err != nil {
		return err
	}
	report.RankingTable(out, ranked, metric)
	for _, r := range ranked {
		report.MetricsTable(out, r.Metrics)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()

	states, err := b.store.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	metric := reportMetric
	if metric == "" {
		metric = b.cfg.Engine.RankingMetric
	}
	bundle, err := report.NewBundle(states, b.cfg.Engine.RiskFreeRate, metric, time.Now())
	if err != nil {
		return err
	}
	paths, err := report.Export(exportDir, bundle, exportFormats...)
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return err
}
