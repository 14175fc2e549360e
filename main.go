package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/config"
)

const (
	appName = "rebalancer"
	version = "v1.0.0"
)

var (
	overrides *config.Overrides

	rootCmd = &cobra.Command{
		Use:     appName,
		Short:   "Weekly risk-managed rebalancing across seven isolated strategy portfolios",
		Version: version,
		Long: `Runs seven stock-picking strategies (four LLM-driven, three rule-based) side by side.
Each strategy trades its own isolated ledger and brokerage account. Recommendations are
normalized, sized from a risk budget with stop-loss and take-profit levels, submitted,
and reconciled against market prices until they close.

Examples:
  rebalancer run --dry-run
  rebalancer cycle --strategies Pure-Momentum
  rebalancer report --metric sortino
  rebalancer backtest --bars data/bars.csv --from 2024-01-01 --to 2024-06-30`,
		SilenceUsage: true,
	}
)

func init() {
	overrides = config.BindFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

// parseTime accepts a date or an RFC3339 timestamp. An empty string yields
// fallback.
func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want YYYY-MM-DD or RFC3339)", s)
	}
	return t, nil
}
