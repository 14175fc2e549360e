package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/winniepooh001/GPTComparison/internal/adapters/pricestream"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/httpapi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the rebalance scheduler until interrupted",
	Long: `Runs rebalance cycles on the configured cadence, expiration sweeps between
cycles, and reconciles open positions against live trade prints. The status API
serves /healthz, /metrics, /ledgers, /rankings and /cycles/last.`,
	RunE: runEngine,
}

var (
	runNoStream bool
	runNoHTTP   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runNoStream, "no-stream", false, "Do not subscribe to live trade prints")
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "Do not serve the status API")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.logger

	if !runNoHTTP {
		checks := map[string]httpapi.Pinger{"ledger_store": rt.store}
		if rt.cache != nil {
			checks["universe_cache"] = rt.cache
		}
		srv, err := httpapi.New(httpapi.Config{
			Addr:         rt.cfg.HTTPAddr,
			Status:       rt.engine,
			Checks:       checks,
			Metrics:      rt.metrics.Handler(),
			RiskFreeRate: rt.cfg.Engine.RiskFreeRate,
			Logger:       log,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error(ctx, err, "Status API stopped")
			}
		}()
	}

	var updates chan domain.MarketUpdate
	if !runNoStream {
		stream, err := pricestream.New(pricestream.Config{
			URL:       rt.cfg.AlpacaStreamURL,
			KeyID:     rt.creds.KeyID,
			SecretKey: rt.creds.SecretKey,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		updates = make(chan domain.MarketUpdate, 256)
		go func() {
			if err := stream.Run(ctx, rt.engine.WatchedTickers, updates); err != nil {
				log.Error(ctx, err, "Price stream stopped")
			}
		}()
	}

	log.Info(ctx, "Engine ready", map[string]interface{}{
		"dry_run":    rt.cfg.Engine.DryRun,
		"strategies": len(rt.engine.Ledgers()),
		"started":    time.Now().UTC(),
	})
	err = rt.engine.Start(ctx, updates)
	cancel()
	return err
}
