package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

const (
	defaultSweepInterval = time.Hour
	maxSweepInterval     = 6 * time.Hour
)

// Start runs the scheduler loop: a rebalance cycle on every cadence trigger,
// an expiration sweep every sweep interval, and reconciliation of every
// market update received on updates (which may be nil). It returns nil on
// shutdown and an error only when the run must stop, i.e. on a ledger
// isolation violation.
func (e *Engine) Start(ctx context.Context, updates <-chan domain.MarketUpdate) error {
	cadence, err := e.cfg.Schedule()
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	e.logger.Info(ctx, "Starting rebalance engine...", map[string]interface{}{"cadence": cadence.String()})

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			e.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	every := e.cfg.SweepInterval
	if every <= 0 {
		every = defaultSweepInterval
	}
	// at least one sweep, and so one equity snapshot, per trading day
	if every > maxSweepInterval {
		every = maxSweepInterval
	}
	sweep := time.NewTicker(every)
	defer sweep.Stop()

	next := cadence.Next(e.now())
	timer := time.NewTimer(next.Sub(e.now()))
	defer timer.Stop()
	e.logger.Info(ctx, "Next rebalance scheduled", map[string]interface{}{"at": next})

	for {
		select {
		case <-ctx.Done():
			e.logger.Info(ctx, "Rebalance engine stopped.")
			return nil

		case <-timer.C:
			if _, err := e.RunCycle(ctx, e.now()); err != nil {
				if errors.Is(err, ports.ErrLedgerIsolationViolation) {
					return err
				}
				e.logger.Warn(ctx, "Rebalance cycle did not succeed", map[string]interface{}{"error": err.Error()})
			}
			next = cadence.Next(e.now())
			timer.Reset(next.Sub(e.now()))
			e.logger.Info(ctx, "Next rebalance scheduled", map[string]interface{}{"at": next})

		case <-sweep.C:
			if _, err := e.Sweep(ctx, e.now()); err != nil {
				if errors.Is(err, ports.ErrLedgerIsolationViolation) {
					e.logger.Error(ctx, err, "LEDGER ISOLATION VIOLATION during sweep")
					return err
				}
				e.logger.Warn(ctx, "Expiration sweep incomplete", map[string]interface{}{"error": err.Error()})
			}

		case u, ok := <-updates:
			if !ok {
				e.logger.Warn(ctx, "Market update stream closed; continuing with scheduled cycles only")
				updates = nil
				continue
			}
			if _, err := e.HandleUpdate(ctx, u); err != nil {
				if errors.Is(err, ports.ErrLedgerIsolationViolation) {
					e.logger.Error(ctx, err, "LEDGER ISOLATION VIOLATION on market update")
					return err
				}
				e.logger.Warn(ctx, "Market update reconciliation incomplete", map[string]interface{}{
					"ticker": u.Ticker,
					"error":  err.Error(),
				})
			}
		}
	}
}
