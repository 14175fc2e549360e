package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/internal/report"
)

var (
	cycleCmd = &cobra.Command{
		Use:   "cycle",
		Short: "Run one rebalance cycle now and print its report",
		RunE:  runCycle,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Poll working orders and close positions past their max holding period",
		RunE:  runSweep,
	}

	asOf string
)

func init() {
	rootCmd.AddCommand(cycleCmd, sweepCmd)

	for _, cmd := range []*cobra.Command{cycleCmd, sweepCmd} {
		cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluation time (YYYY-MM-DD or RFC3339, default now)")
	}
}

func runCycle(cmd *cobra.Command, args []string) error {
	at, err := parseTime(asOf, time.Now())
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	rep, err := rt.engine.RunCycle(cmd.Context(), at)
	if rep != nil {
		report.CycleTable(cmd.OutOrStdout(), rep)
	}
	return err
}

func runSweep(cmd *cobra.Command, args []string) error {
	at, err := parseTime(asOf, time.Now())
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	done, err := rt.engine.Sweep(cmd.Context(), at)
	for _, o := range done {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", o.StrategyID, o.Ticker, o.State, o.ID)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d orders closed or cancelled\n", len(done))
	return err
}
