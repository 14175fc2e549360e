package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
	"github.com/winniepooh001/GPTComparison/internal/strategy/backtesting"
	"github.com/winniepooh001/GPTComparison/internal/strategy/optimization"
	"github.com/winniepooh001/GPTComparison/internal/utils"
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <strategy>",
	Short: "Grid-search the parameters of a rule-based strategy over historical bars",
	Long: `Backtests a rule-based strategy once per parameter combination and prints the
best combinations by the ranking metric.

Examples:
  rebalancer optimize Pure-Momentum --bars data/bars.csv --from 2023-01-01
  rebalancer optimize Pure-MeanReversion --bars data/bars.csv --metric sortino --top 5`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

var (
	optBars    string
	optFrom    string
	optTo      string
	optMetric  string
	optTop     int
	optWorkers int
)

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().StringVar(&optBars, "bars", "", "CSV file of daily bars (required)")
	optimizeCmd.Flags().StringVar(&optFrom, "from", "", "First day (YYYY-MM-DD, default one year before --to)")
	optimizeCmd.Flags().StringVar(&optTo, "to", "", "Last day (YYYY-MM-DD, default today)")
	optimizeCmd.Flags().StringVar(&optMetric, "metric", "", "Metric to maximise (default from config)")
	optimizeCmd.Flags().IntVar(&optTop, "top", 10, "Number of combinations to print")
	optimizeCmd.Flags().IntVar(&optWorkers, "workers", 0, "Concurrent backtests (default GOMAXPROCS)")
	optimizeCmd.MarkFlagRequired("bars")
}

// ruleFactory returns the search grid and factory of a rule-based strategy,
// starting from the configured candidate limits and seed.
func ruleFactory(id domain.StrategyID, e config.EngineConfig) ([]optimization.ParameterRange, optimization.Factory, error) {
	ranges, err := optimization.DefaultRanges(id)
	if err != nil {
		return nil, nil, err
	}
	switch id {
	case domain.StrategyMomentum:
		c := strategy.DefaultMomentumConfig()
		limitCandidates(&c.MaxCandidates, &c.MaxPositions, e)
		return ranges, optimization.MomentumFactory(c), nil
	case domain.StrategyMeanReversion:
		c := strategy.DefaultMeanReversionConfig()
		limitCandidates(&c.MaxCandidates, &c.MaxPositions, e)
		return ranges, optimization.MeanReversionFactory(c), nil
	default:
		c := strategy.DefaultRandomSharpeConfig()
		limitCandidates(&c.MaxCandidates, &c.MaxPositions, e)
		c.RiskFreeRate = e.RiskFreeRate
		c.Seed = e.RandomSeed
		if c.Seed == 0 {
			c.Seed = 1
		}
		return ranges, optimization.RandomSharpeFactory(c), nil
	}
}

func runOptimize(cmd *cobra.Command, args []string) error {
	id, err := parseStrategy(args[0])
	if err != nil {
		return err
	}
	if err := cmd.Flags().Set("dry-run", "true"); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(overrides)
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ranges, factory, err := ruleFactory(id, cfg.Engine)
	if err != nil {
		return err
	}
	to, err := parseTime(optTo, time.Now().UTC())
	if err != nil {
		return err
	}
	from, err := parseTime(optFrom, to.AddDate(-1, 0, 0))
	if err != nil {
		return err
	}
	bars, err := utils.ReadBarsFromCSV(optBars)
	if err != nil {
		return err
	}

	opt, err := optimization.NewOptimizer(optimization.OptimizerConfig{
		ParameterRanges: ranges,
		Backtest: backtesting.BacktestConfig{
			StartTime: from,
			EndTime:   to.Add(24*time.Hour - time.Nanosecond),
			Engine:    cfg.Engine,
		},
		Metric:  optMetric,
		Workers: optWorkers,
	}, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Optimizing %s over %d combinations\n", id, opt.Combinations())

	results, err := opt.Optimize(cmd.Context(), factory, bars)
	if err != nil {
		return err
	}

	metric := optMetric
	if metric == "" {
		metric = cfg.Engine.RankingMetric
	}
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle(fmt.Sprintf("%s BY %s", id, metric))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Parameters", "Score", "Return", "Sharpe", "Max DD", "Trades"})
	for i, r := range results {
		if i >= optTop {
			break
		}
		m := r.Metrics
		t.AppendRow(table.Row{
			i + 1,
			optimization.FormatParameters(r.Parameters),
			fmt.Sprintf("%.4f", r.Score),
			fmt.Sprintf("%.2f%%", m.TotalReturn*100),
			fmt.Sprintf("%.2f", m.SharpeRatio),
			fmt.Sprintf("%.2f%%", m.MaxDrawdown*100),
			m.TotalTrades,
		})
	}
	t.Render()
	return nil
}
