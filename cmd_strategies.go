package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/report"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the strategies, whether they are enabled and their ledger state",
	RunE:  runStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

func runStrategies(cmd *cobra.Command, args []string) error {
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()
	cfg := b.cfg

	llmKeys := map[domain.StrategyID]string{
		domain.StrategyChatGPT:  cfg.OpenAIKey,
		domain.StrategyDeepSeek: cfg.DeepSeekKey,
		domain.StrategyClaude:   cfg.AnthropicKey,
		domain.StrategyGemini:   cfg.GeminiKey,
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetTitle("STRATEGIES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Strategy", "Kind", "Enabled", "Account", "Paused", "Cycles", "Equity"})
	for _, id := range domain.AllStrategies {
		kind := domain.KindRule
		enabled := cfg.Engine.Allowed(id)
		if key, ok := llmKeys[id]; ok {
			kind = domain.KindLLM
			enabled = enabled && key != ""
		}
		account := "paper"
		if !cfg.Engine.DryRun {
			account = "alpaca"
			if c := cfg.Credentials[id]; c.KeyID == "" {
				account = "missing"
			}
		}

		paused, cycles, equity := "-", "-", "-"
		st, err := b.store.Load(cmd.Context(), id)
		switch {
		case err == nil:
			paused = fmt.Sprint(st.Paused)
			cycles = fmt.Sprint(st.SuccessfulCycles)
			equity = fmt.Sprintf("$%.2f", report.Equity(*st))
		case !errors.Is(err, ports.ErrNotFound):
			return err
		}
		t.AppendRow(table.Row{id, kind, enabled, account, paused, cycles, equity})
	}
	t.Render()
	return nil
}
