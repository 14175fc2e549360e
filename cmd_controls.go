package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/internal/adapters/filestore"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

var (
	pauseCmd = &cobra.Command{
		Use:   "pause <strategy>",
		Short: "Stop a strategy from collecting new recommendations",
		Long:  "Paused strategies skip collection and sizing but their open positions keep reconciling.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd.Context(), args[0], true)
		},
	}

	resumeCmd = &cobra.Command{
		Use:   "resume <strategy>",
		Short: "Re-enable collection for a paused strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setPaused(cmd.Context(), args[0], false)
		},
	}

	liquidateCmd = &cobra.Command{
		Use:   "liquidate <strategy>",
		Short: "Close every open position of a strategy and cancel its working orders",
		Args:  cobra.ExactArgs(1),
		RunE:  runLiquidate,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write every ledger to one timestamped JSON file",
		RunE:  runBackup,
	}

	restoreCmd = &cobra.Command{
		Use:   "restore <backup.json>",
		Short: "Replace the stored ledgers with the contents of a backup file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	}

	backupDir string
)

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd, liquidateCmd, backupCmd, restoreCmd)

	backupCmd.Flags().StringVar(&backupDir, "dir", "", "Backup directory (default $BACKUP_DIR)")
}

// parseStrategy matches a strategy ID case-insensitively.
func parseStrategy(s string) (domain.StrategyID, error) {
	for _, id := range domain.AllStrategies {
		if strings.EqualFold(string(id), strings.TrimSpace(s)) {
			return id, nil
		}
	}
	names := make([]string, len(domain.AllStrategies))
	for i, id := range domain.AllStrategies {
		names[i] = string(id)
	}
	return "", fmt.Errorf("unknown strategy %q (valid: %s): %w", s, strings.Join(names, ", "), ports.ErrUnknownStrategy)
}

// setPaused flips the flag on the stored ledger, creating a fresh ledger for
// a strategy that has never been saved.
func setPaused(ctx context.Context, name string, paused bool) error {
	id, err := parseStrategy(name)
	if err != nil {
		return err
	}
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()

	var l *ledger.Ledger
	st, err := b.store.Load(ctx, id)
	switch {
	case err == nil:
		l = ledger.FromState(*st, b.cfg.Engine.TransactionCost)
	case errors.Is(err, ports.ErrNotFound):
		l = ledger.New(id, b.cfg.Engine.StartingCapital, b.cfg.Engine.TransactionCost)
	default:
		return err
	}
	l.SetPaused(paused)
	if err := b.store.Save(ctx, l.State()); err != nil {
		return err
	}
	b.logger.Info(ctx, "Strategy pause state changed", map[string]interface{}{"strategy": id, "paused": paused})
	return nil
}

func runLiquidate(cmd *cobra.Command, args []string) error {
	id, err := parseStrategy(args[0])
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.Close()

	done, err := rt.engine.Liquidate(cmd.Context(), id)
	for _, o := range done {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d %s -> %s\n", o.ID, o.Ticker, o.Quantity, o.Side, o.State)
	}
	return err
}

func runBackup(cmd *cobra.Command, args []string) error {
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()

	states, err := b.store.LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	dir := backupDir
	if dir == "" {
		dir = b.cfg.BackupDir
	}
	path, err := filestore.WriteBackup(dir, states, time.Now())
	if err != nil {
		return err
	}
	b.logger.Info(cmd.Context(), "Ledgers backed up", map[string]interface{}{"path": path, "ledgers": len(states)})
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	backup, err := filestore.ReadBackup(args[0])
	if err != nil {
		return err
	}
	b, err := openBase()
	if err != nil {
		return err
	}
	defer b.Close()

	for _, st := range backup.Ledgers {
		if _, err := parseStrategy(string(st.StrategyID)); err != nil {
			return err
		}
		if err := b.store.Save(cmd.Context(), st); err != nil {
			return fmt.Errorf("restore %s: %w", st.StrategyID, err)
		}
	}
	b.logger.Info(cmd.Context(), "Ledgers restored from backup", map[string]interface{}{
		"path":       args[0],
		"ledgers":    len(backup.Ledgers),
		"created_at": backup.CreatedAt,
	})
	return nil
}
