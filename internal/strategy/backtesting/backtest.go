// Package backtesting replays the rebalance engine over historical bars with
// one paper account per strategy.
package backtesting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/paperbroker"
	"github.com/winniepooh001/GPTComparison/internal/adapters/universe"
	"github.com/winniepooh001/GPTComparison/internal/app"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/lifecycle"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	StartTime time.Time
	EndTime   time.Time
	Engine    config.EngineConfig
	Tickers   []string // universe; every ticker with bars when empty
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	StartTime    time.Time
	EndTime      time.Time
	TradingDays  int
	Cycles       []*domain.CycleReport
	FailedCycles int
	Ledgers      []domain.LedgerState
	Metrics      map[domain.StrategyID]*analytics.PerformanceMetrics
	Rankings     []analytics.Ranked
}

// Backtest walks every trading day between the start and end time. Each day
// it feeds the day's bars for held tickers to reconciliation, runs the
// expiration sweep, and on cadence days runs a full rebalance cycle; other
// days only mark the ledgers and record equity.
func Backtest(ctx context.Context, strategies []ports.Strategy, market *HistoricalMarket, cfg BacktestConfig, logger ports.Logger) (*BacktestResult, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for backtest")
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no strategies to backtest")
	}
	if !cfg.EndTime.After(cfg.StartTime) {
		return nil, fmt.Errorf("backtest end %s is not after start %s", cfg.EndTime, cfg.StartTime)
	}
	cadence, err := cfg.Engine.Schedule()
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	days := market.TradingDays(cfg.StartTime, cfg.EndTime)
	if len(days) == 0 {
		return nil, fmt.Errorf("no bars between %s and %s", cfg.StartTime.Format("2006-01-02"), cfg.EndTime.Format("2006-01-02"))
	}

	engine, err := newEngine(strategies, market, cfg, logger)
	if err != nil {
		return nil, err
	}

	rebalance := make(map[time.Time]bool)
	for _, t := range cadence.Between(days[0].Add(-time.Nanosecond), days[len(days)-1].AddDate(0, 0, 1)) {
		rebalance[dayOf(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))] = true
	}

	result := &BacktestResult{StartTime: cfg.StartTime, EndTime: cfg.EndTime, TradingDays: len(days)}
	logger.Info(ctx, "Starting backtest", map[string]interface{}{
		"start":      days[0].Format("2006-01-02"),
		"end":        days[len(days)-1].Format("2006-01-02"),
		"days":       len(days),
		"strategies": len(strategies),
	})

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), cadence.Hour, cadence.Minute, 0, 0, cadence.Loc)
		market.SetTime(at)

		bars := market.BarsOn(day)
		watched := make(map[string]bool)
		for _, t := range engine.WatchedTickers() {
			watched[t] = true
		}
		for _, b := range bars {
			if !watched[b.Ticker] {
				continue
			}
			if _, err := engine.HandleUpdate(ctx, domain.BarUpdate(b)); errors.Is(err, ports.ErrLedgerIsolationViolation) {
				return nil, err
			}
		}
		if _, err := engine.Sweep(ctx, at); errors.Is(err, ports.ErrLedgerIsolationViolation) {
			return nil, err
		}

		if rebalance[day] {
			report, err := engine.RunCycle(ctx, at)
			if report != nil {
				result.Cycles = append(result.Cycles, report)
			}
			if err != nil {
				if errors.Is(err, ports.ErrLedgerIsolationViolation) {
					return nil, err
				}
				result.FailedCycles++
			}
			continue
		}

		closes := make(map[string]float64, len(bars))
		for _, b := range bars {
			closes[b.Ticker] = b.Close
		}
		for _, id := range engine.Book().IDs() {
			l, err := engine.Book().Get(id)
			if err != nil {
				return nil, err
			}
			l.Mark(closes)
			l.RecordSnapshot(at)
		}
	}

	result.Ledgers = engine.Book().States()
	result.Metrics = make(map[domain.StrategyID]*analytics.PerformanceMetrics, len(result.Ledgers))
	all := make([]*analytics.PerformanceMetrics, 0, len(result.Ledgers))
	for _, st := range result.Ledgers {
		m := analytics.AnalyzePerformance(analytics.FromLedger(st, cfg.Engine.RiskFreeRate))
		result.Metrics[st.StrategyID] = m
		all = append(all, m)
	}
	result.Rankings, err = analytics.Rank(all, cfg.Engine.RankingMetric)
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Backtest complete", map[string]interface{}{
		"cycles": len(result.Cycles),
		"failed": result.FailedCycles,
	})
	return result, nil
}

// newEngine wires a fresh book and one paper account per strategy, all
// driven by the market's simulated clock.
func newEngine(strategies []ports.Strategy, market *HistoricalMarket, cfg BacktestConfig, logger ports.Logger) (*app.Engine, error) {
	reg, err := strategy.NewRegistry(strategies...)
	if err != nil {
		return nil, err
	}
	ids := reg.IDs()

	book := ledger.NewBook()
	book.Open(ids, cfg.Engine.StartingCapital, cfg.Engine.TransactionCost)
	managers := make(map[domain.StrategyID]*lifecycle.Manager, len(ids))
	for _, id := range ids {
		broker := paperbroker.New(cfg.Engine.StartingCapital, market, paperbroker.WithClock(market.Now))
		m, err := lifecycle.NewManager(id, lifecycle.Config{
			Broker:        broker,
			Logger:        logger,
			Now:           market.Now,
			SubmitTimeout: cfg.Engine.SubmitTimeout,
		})
		if err != nil {
			return nil, err
		}
		managers[id] = m
	}

	tickers := cfg.Tickers
	if len(tickers) == 0 {
		tickers = market.Tickers()
	}
	return app.NewEngine(app.Deps{
		Config:     cfg.Engine,
		Logger:     logger,
		Strategies: reg,
		Book:       book,
		Managers:   managers,
		Universe:   universe.Static(tickers),
		Market:     market,
		Now:        market.Now,
	})
}
