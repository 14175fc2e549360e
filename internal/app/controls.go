package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/lifecycle"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

// Load replaces the engine's ledgers with persisted state, for strategies
// the engine knows about. Strategies never saved keep their fresh ledger.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.repo == nil {
		return 0, nil
	}
	states, err := e.repo.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledgers: %w", err)
	}
	known := make([]domain.LedgerState, 0, len(states))
	for _, st := range states {
		if _, ok := e.lanes[st.StrategyID]; ok {
			known = append(known, st)
		}
	}
	e.book.Restore(known, e.cfg.TransactionCost)
	e.logger.Info(ctx, "Ledgers restored", map[string]interface{}{"count": len(known)})
	return len(known), nil
}

func (e *Engine) lane(id domain.StrategyID) (*ledger.Ledger, *lifecycle.Manager, func(), error) {
	lane, ok := e.lanes[id]
	if !ok {
		return nil, nil, nil, fmt.Errorf("strategy %s: %w", id, ports.ErrUnknownStrategy)
	}
	l, err := e.book.Get(id)
	if err != nil {
		return nil, nil, nil, err
	}
	lane.Lock()
	return l, e.managers[id], lane.Unlock, nil
}

// Sweep polls working orders, closes positions past their max hold time and
// marks every ledger to market, recording the day's equity snapshot on
// trading days. It may run between cycles and returns the orders it expired
// or cancelled.
func (e *Engine) Sweep(ctx context.Context, now time.Time) ([]domain.Order, error) {
	op := "app.Sweep"
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	prices := e.heldPrices(ctx)

	var done []domain.Order
	var errs []error
	for _, id := range e.strategies.IDs() {
		l, m, unlock, err := e.lane(id)
		if err != nil {
			return done, err
		}
		if _, err := m.Refresh(ctx, l); err != nil {
			errs = append(errs, err)
		}
		expired, err := m.Expire(ctx, l, now, prices)
		if err != nil {
			errs = append(errs, err)
		}
		for _, o := range expired {
			if o.State.IsClosed() {
				e.metrics.OrderClosed(id, o.State)
			}
		}
		l.Mark(prices)
		e.recordDay(l, now)
		e.metrics.SetLedger(id, l.Equity(), l.Cash(), len(l.Positions()))
		e.persist(ctx, l)
		unlock()
		done = append(done, expired...)

		if err := errors.Join(errs...); errors.Is(err, ports.ErrLedgerIsolationViolation) {
			return done, err
		}
	}

	if len(done) > 0 {
		e.logger.Info(ctx, "Expiration sweep closed orders", map[string]interface{}{"op": op, "count": len(done)})
	}
	return done, errors.Join(errs...)
}

// heldPrices reads the latest price of every ticker held by any ledger. A
// ticker whose price cannot be read keeps its previous mark.
func (e *Engine) heldPrices(ctx context.Context) map[string]float64 {
	prices := make(map[string]float64)
	for _, t := range e.WatchedTickers() {
		px, err := e.market.GetPrice(ctx, t)
		if err != nil || px <= 0 {
			e.logger.Debug(ctx, "No price for held ticker", map[string]interface{}{"ticker": t})
			continue
		}
		prices[t] = px
	}
	return prices
}

// recordDay records the ledger's equity snapshot for the trading day of at.
// Weekends in the exchange timezone are not trading days.
func (e *Engine) recordDay(l *ledger.Ledger, at time.Time) {
	at = at.In(e.loc)
	if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return
	}
	l.RecordSnapshot(at)
}

// HandleUpdate routes one market update to every ledger's filled orders on
// that ticker. Duplicate or stale updates are counted as conflicts and
// otherwise ignored.
func (e *Engine) HandleUpdate(ctx context.Context, u domain.MarketUpdate) (lifecycle.Outcome, error) {
	e.metrics.PriceUpdate()

	var total lifecycle.Outcome
	var errs []error
	for _, id := range e.strategies.IDs() {
		l, m, unlock, err := e.lane(id)
		if err != nil {
			return total, err
		}
		out, err := m.ReconcileUpdate(ctx, l, u)
		l.Mark(map[string]float64{u.Ticker: u.Price})
		if len(out.Closed) > 0 {
			e.persist(ctx, l)
		}
		unlock()

		for _, c := range out.Closed {
			e.metrics.OrderClosed(id, c.State)
		}
		e.metrics.ConflictsSeen(id, out.Conflicts)
		total.Closed = append(total.Closed, out.Closed...)
		total.Conflicts += out.Conflicts
		if err != nil {
			if errors.Is(err, ports.ErrLedgerIsolationViolation) {
				return total, err
			}
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// WatchedTickers lists the tickers of filled positions across all ledgers,
// which is what the price stream needs to subscribe to.
func (e *Engine) WatchedTickers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range e.strategies.IDs() {
		l, err := e.book.Get(id)
		if err != nil {
			continue
		}
		for _, o := range l.FilledOrders() {
			if !seen[o.Ticker] {
				seen[o.Ticker] = true
				out = append(out, o.Ticker)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Pause stops a strategy from collecting new recommendations. Its open
// positions keep reconciling.
func (e *Engine) Pause(ctx context.Context, id domain.StrategyID) error {
	return e.setPaused(ctx, id, true)
}

// Resume re-enables collection for a paused strategy.
func (e *Engine) Resume(ctx context.Context, id domain.StrategyID) error {
	return e.setPaused(ctx, id, false)
}

func (e *Engine) setPaused(ctx context.Context, id domain.StrategyID, paused bool) error {
	l, _, unlock, err := e.lane(id)
	if err != nil {
		return err
	}
	defer unlock()
	l.SetPaused(paused)
	e.persist(ctx, l)
	e.logger.Info(ctx, "Strategy pause state changed", map[string]interface{}{"strategy": id, "paused": paused})
	return nil
}

// Liquidate closes every open position of a strategy and cancels its
// working orders.
func (e *Engine) Liquidate(ctx context.Context, id domain.StrategyID) ([]domain.Order, error) {
	l, m, unlock, err := e.lane(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	done, err := m.Liquidate(ctx, l, nil)
	for _, o := range done {
		if o.State.IsClosed() {
			e.metrics.OrderClosed(id, o.State)
		}
	}
	e.persist(ctx, l)
	return done, err
}

// Ledgers returns the persisted form of every ledger.
func (e *Engine) Ledgers() []domain.LedgerState {
	return e.book.States()
}

// Rankings compares every ledger that completed a successful cycle.
func (e *Engine) Rankings(metric string) ([]analytics.Ranked, error) {
	if metric == "" {
		metric = e.cfg.RankingMetric
	}
	return analytics.Compare(e.book.States(), e.cfg.RiskFreeRate, metric)
}
