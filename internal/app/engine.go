// Package app contains the rebalance engine: it runs every strategy through
// collection, sizing, submission and reconciliation against its own ledger.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/logger"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/lifecycle"
	"github.com/winniepooh001/GPTComparison/internal/metrics"
	"github.com/winniepooh001/GPTComparison/internal/normalizer"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/risk"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
)

const snapshotWorkers = 8

// Deps are the collaborators of an Engine. Repo and Metrics are optional.
type Deps struct {
	Config     config.EngineConfig
	Logger     ports.Logger
	Strategies *strategy.Registry
	Book       *ledger.Book
	Managers   map[domain.StrategyID]*lifecycle.Manager
	Universe   ports.UniverseProvider
	Market     ports.MarketData
	Repo       ports.LedgerRepository
	Metrics    *metrics.Registry
	Now        func() time.Time
}

// Engine orchestrates rebalance cycles, expiration sweeps and price-driven
// reconciliation across all strategy ledgers.
type Engine struct {
	cfg        config.EngineConfig
	logger     ports.Logger
	strategies *strategy.Registry
	book       *ledger.Book
	managers   map[domain.StrategyID]*lifecycle.Manager
	normalizer *normalizer.Normalizer
	sizer      *risk.Sizer
	universe   ports.UniverseProvider
	market     ports.MarketData
	repo       ports.LedgerRepository
	metrics    *metrics.Registry
	now        func() time.Time
	loc        *time.Location // exchange timezone that defines a trading day

	// cycleMu admits one cycle or sweep at a time; lanes serialize work on one ledger.
	cycleMu sync.Mutex
	lanes   map[domain.StrategyID]*sync.Mutex

	mu         sync.RWMutex
	phase      domain.CyclePhase
	lastReport *domain.CycleReport
	resubmit   map[domain.StrategyID]map[string]resubmission
}

type resubmission struct {
	rec     domain.Recommendation
	attempt int // attempts already made
}

// NewEngine wires an engine and checks that every strategy has exactly one
// ledger and one lifecycle manager of its own.
func NewEngine(d Deps) (*Engine, error) {
	if d.Logger == nil || d.Strategies == nil || d.Book == nil || d.Universe == nil || d.Market == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	cfg := d.Config

	sizer, err := risk.NewSizer(risk.SizerConfig{
		StopMin:             cfg.StopLossBounds.Min,
		StopMax:             cfg.StopLossBounds.Max,
		ProfitMultiplier:    cfg.ProfitMultiplier,
		MaxPositionFraction: cfg.MaxPositionFraction,
		MaxExposure:         cfg.MaxExposure,
		MaxHoldingPeriod:    cfg.MaxHoldingPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("risk sizer: %w", err)
	}
	norm, err := normalizer.New(normalizer.Config{
		MinRiskFraction:     cfg.RiskFractionBounds.Min,
		MaxRiskFraction:     cfg.RiskFractionBounds.Max,
		DefaultRiskFraction: cfg.RiskFractionBounds.Default,
	}, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	lanes := make(map[domain.StrategyID]*sync.Mutex)
	for _, id := range d.Strategies.IDs() {
		m, ok := d.Managers[id]
		if !ok {
			return nil, fmt.Errorf("no lifecycle manager for %s: %w", id, ports.ErrConfigurationError)
		}
		if m.Strategy() != id {
			return nil, fmt.Errorf("manager for %s serves %s: %w", id, m.Strategy(), ports.ErrLedgerIsolationViolation)
		}
		if _, err := d.Book.Get(id); err != nil {
			return nil, err
		}
		lanes[id] = &sync.Mutex{}
	}

	if d.Now == nil {
		d.Now = time.Now
	}
	loc := time.UTC
	if cadence, err := cfg.Schedule(); err == nil && cadence.Loc != nil {
		loc = cadence.Loc
	}
	return &Engine{
		cfg:        cfg,
		logger:     d.Logger,
		strategies: d.Strategies,
		book:       d.Book,
		managers:   d.Managers,
		normalizer: norm,
		sizer:      sizer,
		universe:   d.Universe,
		market:     d.Market,
		repo:       d.Repo,
		metrics:    d.Metrics,
		now:        d.Now,
		loc:        loc,
		lanes:      lanes,
		phase:      domain.PhaseIdle,
		resubmit:   make(map[domain.StrategyID]map[string]resubmission),
	}, nil
}

// Book returns the ledgers the engine drives.
func (e *Engine) Book() *ledger.Book {
	return e.book
}

// Phase is the current cycle phase.
func (e *Engine) Phase() domain.CyclePhase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// LastReport returns the report of the most recent cycle, or nil.
func (e *Engine) LastReport() *domain.CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastReport == nil {
		return nil
	}
	rep := *e.lastReport
	rep.Results = append([]domain.StrategyResult(nil), e.lastReport.Results...)
	return &rep
}

func (e *Engine) setPhase(p domain.CyclePhase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// run is one strategy's state for the duration of a cycle.
type run struct {
	id       domain.StrategyID
	strategy ports.Strategy
	ledger   *ledger.Ledger
	manager  *lifecycle.Manager
	recs     []domain.Recommendation
	plan     []planned
	result   domain.StrategyResult
	fatal    error
	started  time.Time
}

type planned struct {
	rec     domain.Recommendation
	order   domain.SizedOrder
	sized   bool
	attempt int
	reverse string // filled order to close before opening
}

func (r *run) reject(ticker string, err error) {
	r.result.Rejections = append(r.result.Rejections, domain.Rejection{Ticker: ticker, Kind: ErrorKind(err), Reason: err.Error()})
	if errors.Is(err, ports.ErrLedgerIsolationViolation) && r.fatal == nil {
		r.fatal = err
	}
}

// RunCycle runs one rebalance cycle as of the given time. Strategy failures
// are contained in the report; the returned error is non-nil when the cycle
// was aborted by a ledger isolation violation or when no strategy submitted
// an order (ports.ErrCycleFailed). The report is always returned.
func (e *Engine) RunCycle(ctx context.Context, asOf time.Time) (*domain.CycleReport, error) {
	op := "app.RunCycle"
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	report := &domain.CycleReport{CycleID: uuid.NewString(), AsOf: asOf, StartedAt: e.now()}
	ctx = logger.WithFields(ctx, map[string]interface{}{"cycle_id": report.CycleID})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer e.finish(report)

	e.logger.Info(ctx, "Starting rebalance cycle", map[string]interface{}{"op": op, "as_of": asOf})

	universe, err := e.universe.GetUniverse(ctx, asOf)
	if err != nil {
		report.Error = err.Error()
		e.logger.Error(ctx, err, "Failed to load universe", map[string]interface{}{"op": op})
		return report, fmt.Errorf("%s: universe: %w", op, err)
	}

	runs, err := e.runs()
	if err != nil {
		if errors.Is(err, ports.ErrLedgerIsolationViolation) {
			return e.abort(ctx, report, nil, err)
		}
		report.Error = err.Error()
		return report, fmt.Errorf("%s: %w", op, err)
	}
	market := newMarketCache(e.market)

	e.setPhase(domain.PhaseCollecting)
	e.each(runs, func(r *run) { e.collect(ctx, r, universe, asOf, market) })
	if err := fatal(runs); err != nil {
		return e.abort(ctx, report, runs, err)
	}

	e.setPhase(domain.PhaseSizing)
	quotes := snapshot(ctx, market, e.tickers(runs), asOf, e.cfg.VolatilityLookback, snapshotWorkers)
	e.each(runs, func(r *run) { e.size(ctx, r, quotes, asOf) })
	if err := fatal(runs); err != nil {
		return e.abort(ctx, report, runs, err)
	}

	e.setPhase(domain.PhaseSubmitting)
	e.each(runs, func(r *run) { e.submit(ctx, r, quotes) })
	if err := fatal(runs); err != nil {
		return e.abort(ctx, report, runs, err)
	}

	e.setPhase(domain.PhaseReconciling)
	e.each(runs, func(r *run) { e.reconcile(ctx, r, quotes, asOf) })
	if err := fatal(runs); err != nil {
		return e.abort(ctx, report, runs, err)
	}

	submitted := 0
	for _, r := range runs {
		report.Results = append(report.Results, r.result)
		submitted += r.result.Submitted
	}
	report.Succeeded = submitted > 0

	e.logger.Info(ctx, "Rebalance cycle finished", map[string]interface{}{
		"op":        op,
		"submitted": submitted,
		"succeeded": report.Succeeded,
	})
	if !report.Succeeded {
		report.Error = ports.ErrCycleFailed.Error()
		return report, fmt.Errorf("%s: %w", op, ports.ErrCycleFailed)
	}
	return report, nil
}

func (e *Engine) finish(report *domain.CycleReport) {
	report.FinishedAt = e.now()
	e.mu.Lock()
	e.phase = domain.PhaseIdle
	e.lastReport = report
	e.mu.Unlock()
	e.metrics.ObserveCycle(report)
}

func (e *Engine) abort(ctx context.Context, report *domain.CycleReport, runs []*run, err error) (*domain.CycleReport, error) {
	report.Aborted = true
	report.Error = err.Error()
	for _, r := range runs {
		report.Results = append(report.Results, r.result)
	}
	e.logger.Error(ctx, err, "LEDGER ISOLATION VIOLATION: cycle aborted", map[string]interface{}{
		"op":       "app.RunCycle",
		"as_of":    report.AsOf,
		"cycle_id": report.CycleID,
	})
	return report, fmt.Errorf("cycle %s aborted: %w", report.CycleID, err)
}

func (e *Engine) runs() ([]*run, error) {
	ids := e.strategies.IDs()
	runs := make([]*run, 0, len(ids))
	for _, id := range ids {
		s, _ := e.strategies.Get(id)
		l, err := e.book.Get(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &run{
			id:       id,
			strategy: s,
			ledger:   l,
			manager:  e.managers[id],
			result:   domain.StrategyResult{StrategyID: id},
			started:  e.now(),
		})
	}
	return runs, nil
}

// each runs fn for every strategy in parallel and waits for all of them.
func (e *Engine) each(runs []*run, fn func(r *run)) {
	var wg sync.WaitGroup
	for _, r := range runs {
		wg.Add(1)
		go func(r *run) {
			defer wg.Done()
			lane := e.lanes[r.id]
			lane.Lock()
			defer lane.Unlock()
			fn(r)
		}(r)
	}
	wg.Wait()
}

func fatal(runs []*run) error {
	for _, r := range runs {
		if r.fatal != nil {
			return r.fatal
		}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, r *run, err error) {
	r.result.Status = domain.StrategyFailed
	r.result.ErrorKind = ErrorKind(err)
	r.result.Error = err.Error()
	if errors.Is(err, ports.ErrLedgerIsolationViolation) {
		r.fatal = err
	}
	e.logger.Error(ctx, err, "Strategy failed for this cycle", map[string]interface{}{
		"strategy":   r.id,
		"error_kind": r.result.ErrorKind,
	})
}

func (e *Engine) collect(ctx context.Context, r *run, universe *domain.Universe, asOf time.Time, market ports.MarketData) {
	ctx = logger.WithFields(ctx, map[string]interface{}{"strategy": r.id})
	switch {
	case !e.cfg.Allowed(r.id):
		r.result.Status = domain.StrategySkipped
		return
	case r.ledger.Paused():
		r.result.Status = domain.StrategyPaused
		e.logger.Info(ctx, "Strategy paused, skipping collection")
		return
	}

	in := ports.StrategyInput{AsOf: asOf, Universe: universe, Ledger: r.ledger.Snapshot(asOf), Market: market}
	raw, err := e.fetch(ctx, r.strategy, in)
	if err != nil {
		e.fail(ctx, r, err)
		return
	}
	if raw.StrategyID != r.id {
		e.fail(ctx, r, fmt.Errorf("%s returned output for %s: %w", r.id, raw.StrategyID, ports.ErrLedgerIsolationViolation))
		return
	}

	recs, drops, err := e.normalizer.NormalizeDetailed(ctx, raw, universe, asOf)
	if err != nil {
		e.fail(ctx, r, err)
		return
	}
	for _, d := range drops {
		r.result.Rejections = append(r.result.Rejections, domain.Rejection{Ticker: d.Ticker, Kind: KindDropped, Reason: d.Reason})
	}
	r.recs = recs
	r.result.Status = domain.StrategyOK
	r.result.Recommendations = len(recs)
}

// fetch calls a strategy under the per-strategy timeout, retrying transient
// failures with exponential backoff.
func (e *Engine) fetch(ctx context.Context, s ports.Strategy, in ports.StrategyInput) (domain.RawOutput, error) {
	if e.cfg.StrategyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.StrategyTimeout)
		defer cancel()
	}

	rp := e.cfg.RetryPolicy
	attempts := rp.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := &backoff.Backoff{Min: rp.InitialBackoff, Max: rp.MaxBackoff, Factor: 2, Jitter: true}

	for attempt := 1; ; attempt++ {
		raw, err := s.Recommend(ctx, in)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return raw, fmt.Errorf("%s after %d attempt(s): %v: %w", s.ID(), attempt, err, ports.ErrTimeout)
			}
			return raw, ctx.Err()
		}
		if attempt >= attempts || !retryable(err) {
			return raw, err
		}

		wait := b.Duration()
		e.logger.Warn(ctx, "Strategy fetch failed, retrying", map[string]interface{}{
			"strategy": s.ID(),
			"attempt":  attempt,
			"wait":     wait.String(),
			"error":    err.Error(),
		})
		select {
		case <-ctx.Done():
			return raw, fmt.Errorf("%s: %v: %w", s.ID(), err, ports.ErrTimeout)
		case <-time.After(wait):
		}
	}
}

// tickers is the union of recommended, resubmitted and held tickers.
func (e *Engine) tickers(runs []*run) []string {
	set := make(map[string]struct{})
	for _, r := range runs {
		for _, rec := range r.recs {
			set[rec.Ticker] = struct{}{}
		}
		for _, o := range r.ledger.OpenOrders() {
			set[o.Ticker] = struct{}{}
		}
	}
	e.mu.RLock()
	for _, pending := range e.resubmit {
		for t := range pending {
			set[t] = struct{}{}
		}
	}
	e.mu.RUnlock()

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) size(ctx context.Context, r *run, quotes map[string]quote, asOf time.Time) {
	if r.result.Status != domain.StrategyOK {
		return
	}
	snap := r.ledger.Snapshot(asOf)
	if snap.StrategyID != r.id {
		r.fatal = fmt.Errorf("%s sized against %s snapshot: %w", r.id, snap.StrategyID, ports.ErrLedgerIsolationViolation)
		return
	}
	budget := e.sizer.NewBudget(snap)

	for _, p := range e.candidates(r) {
		rec := p.rec
		if rec.StrategyID != r.id {
			r.reject(rec.Ticker, fmt.Errorf("%s recommendation in %s pass: %w", rec.StrategyID, r.id, ports.ErrLedgerIsolationViolation))
			return
		}

		if side, held := snap.Holds(rec.Ticker); held {
			if side == rec.Side {
				r.result.NoOps++
				continue
			}
			o, ok := r.ledger.OpenOrderFor(rec.Ticker)
			if !ok || o.State != domain.StateFilled {
				r.result.Rejections = append(r.result.Rejections, domain.Rejection{Ticker: rec.Ticker, Kind: KindSuperseded, Reason: "opposite order still working"})
				continue
			}
			p.reverse = o.ID
			budget.Release(snap.Positions[rec.Ticker].Exposure())
		}

		q, ok := quotes[rec.Ticker]
		if !ok || q.Err != nil {
			err := q.Err
			if err == nil {
				err = fmt.Errorf("%s: %w", rec.Ticker, ports.ErrNoPrice)
			}
			r.reject(rec.Ticker, err)
			if p.reverse != "" {
				r.plan = append(r.plan, p)
			}
			continue
		}

		so, err := budget.Size(rec, q.Volatility, q.Price, asOf)
		if err != nil {
			r.reject(rec.Ticker, err)
			if r.fatal != nil {
				return
			}
			e.logger.Debug(ctx, "Recommendation not sized", map[string]interface{}{
				"strategy": r.id,
				"ticker":   rec.Ticker,
				"error":    err.Error(),
			})
		} else {
			p.order, p.sized = so, true
			r.result.Sized++
		}
		if p.sized || p.reverse != "" {
			r.plan = append(r.plan, p)
		}
	}
}

// candidates merges fresh recommendations with queued resubmissions; a fresh
// recommendation for the same ticker supersedes the queued one.
func (e *Engine) candidates(r *run) []planned {
	out := make([]planned, 0, len(r.recs))
	fresh := make(map[string]bool, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, planned{rec: rec, attempt: 1})
		fresh[rec.Ticker] = true
	}

	e.mu.Lock()
	queued := e.resubmit[r.id]
	delete(e.resubmit, r.id)
	e.mu.Unlock()

	tickers := make([]string, 0, len(queued))
	for t := range queued {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		if fresh[t] {
			continue
		}
		q := queued[t]
		out = append(out, planned{rec: q.rec, attempt: q.attempt + 1})
	}
	return out
}

func (e *Engine) queueResubmit(id domain.StrategyID, rec domain.Recommendation, attempt int) {
	rp := e.cfg.RetryPolicy
	if !rp.ResubmitRejected || attempt >= rp.MaxAttempts {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resubmit[id] == nil {
		e.resubmit[id] = make(map[string]resubmission)
	}
	e.resubmit[id][rec.Ticker] = resubmission{rec: rec, attempt: attempt}
}

func (e *Engine) submit(ctx context.Context, r *run, quotes map[string]quote) {
	ctx = logger.WithFields(ctx, map[string]interface{}{"strategy": r.id})
	for _, p := range r.plan {
		if p.reverse != "" {
			if o, ok := r.ledger.Order(p.reverse); ok && o.State == domain.StateFilled {
				closed, err := r.manager.ClosePosition(ctx, r.ledger, p.reverse, quotes[o.Ticker].Price, lifecycle.ReasonReversal)
				if err != nil {
					r.reject(o.Ticker, err)
					if r.fatal != nil {
						return
					}
					continue
				}
				r.result.Closed++
				e.metrics.OrderClosed(r.id, closed.State)
			}
		}
		if !p.sized {
			continue
		}

		o, err := r.manager.SubmitAttempt(ctx, r.ledger, p.order, p.attempt)
		if err != nil {
			r.reject(p.order.Ticker, err)
			if r.fatal != nil {
				return
			}
			if errors.Is(err, ports.ErrSubmissionFailure) {
				e.queueResubmit(r.id, p.rec, p.attempt)
			}
			continue
		}
		r.result.Submitted++
		e.metrics.OrderSubmitted(r.id, o.Side)
	}
}

func (e *Engine) reconcile(ctx context.Context, r *run, quotes map[string]quote, asOf time.Time) {
	ctx = logger.WithFields(ctx, map[string]interface{}{"strategy": r.id})
	l, m := r.ledger, r.manager

	changed, err := m.Refresh(ctx, l)
	if err != nil {
		e.note(ctx, r, "Order status refresh incomplete", err)
	}
	for _, o := range changed {
		if o.State == domain.StateFilled {
			r.result.Filled++
		}
	}

	prices := marks(quotes)
	seen := make(map[string]bool)
	for _, o := range l.FilledOrders() {
		px, ok := prices[o.Ticker]
		if !ok || seen[o.Ticker] {
			continue
		}
		seen[o.Ticker] = true
		out, err := m.ReconcileUpdate(ctx, l, domain.NewMarketUpdate(o.Ticker, px, asOf))
		if err != nil {
			e.note(ctx, r, "Reconciliation incomplete", err)
		}
		r.result.Closed += len(out.Closed)
		r.result.Conflicts += out.Conflicts
		for _, c := range out.Closed {
			e.metrics.OrderClosed(r.id, c.State)
		}
		e.metrics.ConflictsSeen(r.id, out.Conflicts)
	}

	expired, err := m.Expire(ctx, l, asOf, prices)
	if err != nil {
		e.note(ctx, r, "Expiration incomplete", err)
	}
	for _, o := range expired {
		if o.State.IsClosed() {
			r.result.Closed++
			e.metrics.OrderClosed(r.id, o.State)
		}
	}

	l.Mark(prices)
	e.recordDay(l, asOf)
	if r.result.Status == domain.StrategyOK {
		l.IncSuccessfulCycles()
	}
	r.result.Equity = l.Equity()
	r.result.Duration = e.now().Sub(r.started)
	e.metrics.SetLedger(r.id, r.result.Equity, l.Cash(), len(l.Positions()))
	e.persist(ctx, l)
}

// note logs a non-fatal reconciliation error, escalating isolation breaches.
func (e *Engine) note(ctx context.Context, r *run, msg string, err error) {
	if errors.Is(err, ports.ErrLedgerIsolationViolation) && r.fatal == nil {
		r.fatal = err
	}
	e.logger.Warn(ctx, msg, map[string]interface{}{"strategy": r.id, "error": err.Error()})
}

func (e *Engine) persist(ctx context.Context, l *ledger.Ledger) {
	if e.repo == nil {
		return
	}
	if err := e.repo.Save(ctx, l.State()); err != nil {
		e.logger.Error(ctx, err, "Failed to persist ledger", map[string]interface{}{"strategy": l.StrategyID()})
	}
}
