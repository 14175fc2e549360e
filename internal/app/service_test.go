package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/adapters/paperbroker"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/lifecycle"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockMarket struct {
	mu   sync.Mutex
	bars map[string][]domain.Bar
}

func (m *mockMarket) GetPrice(ctx context.Context, ticker string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bars[ticker]
	if len(b) == 0 {
		return 0, ports.ErrNoPrice
	}
	return b[len(b)-1].Close, nil
}

func (m *mockMarket) GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bar
	for _, b := range m.bars[ticker] {
		if !b.Time.After(end) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, ports.ErrNotFound
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type mockUniverse struct {
	tickers []string
	err     error
}

func (m *mockUniverse) GetUniverse(ctx context.Context, asOf time.Time) (*domain.Universe, error) {
	if m.err != nil {
		return nil, m.err
	}
	return domain.NewUniverse(asOf, m.tickers), nil
}

type mockRepo struct {
	mu    sync.Mutex
	saved map[domain.StrategyID]domain.LedgerState
}

func (m *mockRepo) Save(ctx context.Context, st domain.LedgerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[st.StrategyID] = st
	return nil
}

func (m *mockRepo) Load(ctx context.Context, id domain.StrategyID) (*domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.saved[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return &st, nil
}

func (m *mockRepo) LoadAll(ctx context.Context) ([]domain.LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LedgerState
	for _, st := range m.saved {
		out = append(out, st)
	}
	return out, nil
}

func (m *mockRepo) Close() error { return nil }

type respondFunc func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error)

type mockStrategy struct {
	id      domain.StrategyID
	kind    domain.StrategyKind
	mu      sync.Mutex
	calls   int
	respond respondFunc
}

func (m *mockStrategy) ID() domain.StrategyID     { return m.id }
func (m *mockStrategy) Kind() domain.StrategyKind { return m.kind }

func (m *mockStrategy) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	respond := m.respond
	m.mu.Unlock()
	return respond(ctx, call, in)
}

func (m *mockStrategy) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockStrategy) set(fn respondFunc) {
	m.mu.Lock()
	m.respond = fn
	m.mu.Unlock()
}

func signals(id domain.StrategyID, action string, tickers ...string) respondFunc {
	return func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		out := domain.RawOutput{StrategyID: id, Kind: domain.KindRule}
		for _, t := range tickers {
			out.Signals = append(out.Signals, domain.Signal{Ticker: t, Action: action, Confidence: 0.8})
		}
		return out, nil
	}
}

func text(id domain.StrategyID, s string) respondFunc {
	return func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		return domain.RawOutput{StrategyID: id, Kind: domain.KindLLM, Text: s}, nil
	}
}

var cycleAsOf = time.Date(2025, 6, 6, 15, 30, 0, 0, time.UTC)

func flatBars(ticker string, n int, price float64) []domain.Bar {
	out := make([]domain.Bar, n)
	start := time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -n+1)
	for i := range out {
		out[i] = domain.Bar{Ticker: ticker, Time: start.AddDate(0, 0, i), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000}
	}
	return out
}

type harness struct {
	engine     *Engine
	book       *ledger.Book
	strategies map[domain.StrategyID]*mockStrategy
	market     *mockMarket
	repo       *mockRepo
	log        *mockLogger
	rejectMu   sync.Mutex
	rejectAll  map[string]bool
}

func testConfig() config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.TransactionCost = 0
	cfg.RetryPolicy.InitialBackoff = time.Millisecond
	cfg.RetryPolicy.MaxBackoff = 2 * time.Millisecond
	cfg.StrategyTimeout = 2 * time.Second
	return cfg
}

// newHarness wires all seven strategies, each buying AAA through signals.
func newHarness(t *testing.T, cfg config.EngineConfig) *harness {
	t.Helper()
	h := &harness{
		strategies: make(map[domain.StrategyID]*mockStrategy),
		market: &mockMarket{bars: map[string][]domain.Bar{
			"AAA":  flatBars("AAA", 30, 100),
			"BBB":  flatBars("BBB", 30, 50),
			"ACME": flatBars("ACME", 30, 50),
		}},
		repo:      &mockRepo{saved: make(map[domain.StrategyID]domain.LedgerState)},
		log:       &mockLogger{},
		rejectAll: make(map[string]bool),
	}

	var list []ports.Strategy
	managers := make(map[domain.StrategyID]*lifecycle.Manager)
	for _, id := range domain.AllStrategies {
		s := &mockStrategy{id: id, kind: domain.KindRule, respond: signals(id, "buy", "AAA")}
		h.strategies[id] = s
		list = append(list, s)

		broker := paperbroker.New(cfg.StartingCapital, h.market,
			paperbroker.WithClock(func() time.Time { return cycleAsOf }),
			paperbroker.WithRejector(func(req ports.BrokerOrderRequest) error {
				h.rejectMu.Lock()
				defer h.rejectMu.Unlock()
				if h.rejectAll[req.Ticker] {
					return ports.ErrBrokerUnavailable
				}
				return nil
			}))
		m, err := lifecycle.NewManager(id, lifecycle.Config{Broker: broker, Logger: h.log, Now: func() time.Time { return cycleAsOf }})
		require.NoError(t, err)
		managers[id] = m
	}
	reg, err := strategy.NewRegistry(list...)
	require.NoError(t, err)

	h.book = ledger.NewBook()
	h.book.Open(domain.AllStrategies, cfg.StartingCapital, cfg.TransactionCost)

	h.engine, err = NewEngine(Deps{
		Config:     cfg,
		Logger:     h.log,
		Strategies: reg,
		Book:       h.book,
		Managers:   managers,
		Universe:   &mockUniverse{tickers: []string{"AAA", "BBB", "ACME"}},
		Market:     h.market,
		Repo:       h.repo,
		Now:        func() time.Time { return cycleAsOf },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) reject(ticker string, on bool) {
	h.rejectMu.Lock()
	defer h.rejectMu.Unlock()
	h.rejectAll[ticker] = on
}

func (h *harness) ledger(t *testing.T, id domain.StrategyID) *ledger.Ledger {
	t.Helper()
	l, err := h.book.Get(id)
	require.NoError(t, err)
	return l
}

func TestRunCycle_MalformedOutputIsolatedToOneStrategy(t *testing.T) {
	h := newHarness(t, testConfig())
	h.strategies[domain.StrategyClaude].kind = domain.KindLLM
	h.strategies[domain.StrategyClaude].set(text(domain.StrategyClaude, "I'd rather not pick stocks today."))

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	assert.True(t, report.Succeeded)
	require.Len(t, report.Results, 7)

	for _, res := range report.Results {
		if res.StrategyID == domain.StrategyClaude {
			assert.Equal(t, domain.StrategyFailed, res.Status)
			assert.Equal(t, KindMalformedRecommendation, res.ErrorKind)
			assert.Zero(t, res.Submitted)
			continue
		}
		assert.Equal(t, domain.StrategyOK, res.Status, res.StrategyID)
		assert.Equal(t, 1, res.Submitted, res.StrategyID)
		assert.Equal(t, 1, res.Filled, res.StrategyID)
	}

	claude := h.ledger(t, domain.StrategyClaude)
	assert.Empty(t, claude.Orders(nil))
	assert.Equal(t, 0, claude.SuccessfulCycles())

	momentum := h.ledger(t, domain.StrategyMomentum)
	filled := momentum.FilledOrders()
	require.Len(t, filled, 1)
	assert.Equal(t, int64(100), filled[0].Quantity)
	assert.InDelta(t, 80.0, filled[0].StopLossPrice, 1e-9)
	assert.InDelta(t, 140.0, filled[0].TakeProfitPrice, 1e-9)
	assert.Equal(t, 1, momentum.SuccessfulCycles())
	require.Len(t, momentum.History(), 1)

	assert.Len(t, h.repo.saved, 7, "every ledger persisted after reconciliation")
	assert.Equal(t, domain.PhaseIdle, h.engine.Phase())
	assert.Equal(t, report.CycleID, h.engine.LastReport().CycleID)
}

func TestRunCycle_SameSideIsNoOpAndCycleFails(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf.AddDate(0, 0, 7))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrCycleFailed))
	assert.False(t, report.Succeeded)

	res, ok := report.Result(domain.StrategyMomentum)
	require.True(t, ok)
	assert.Equal(t, 1, res.NoOps)
	assert.Zero(t, res.Submitted)
	assert.Len(t, h.ledger(t, domain.StrategyMomentum).Orders(nil), 1)
	assert.Equal(t, 2, h.ledger(t, domain.StrategyMomentum).SuccessfulCycles())
}

func TestRunCycle_OppositeSideReverses(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)

	h.strategies[domain.StrategyMomentum].set(signals(domain.StrategyMomentum, "sell", "AAA"))
	report, err := h.engine.RunCycle(context.Background(), cycleAsOf.AddDate(0, 0, 7))
	require.NoError(t, err, "the reversal submits a new order")

	res, _ := report.Result(domain.StrategyMomentum)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.Submitted)

	l := h.ledger(t, domain.StrategyMomentum)
	closed := l.ClosedOrders()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.StateClosedManual, closed[0].State)
	assert.Equal(t, lifecycle.ReasonReversal, closed[0].Reason)

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, domain.Sell, positions[0].Side)
}

func TestRunCycle_IsolationViolationAborts(t *testing.T) {
	h := newHarness(t, testConfig())
	h.strategies[domain.StrategyGemini].set(signals(domain.StrategyMomentum, "buy", "AAA"))

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrLedgerIsolationViolation))
	assert.True(t, report.Aborted)
	for _, id := range domain.AllStrategies {
		assert.Empty(t, h.ledger(t, id).Orders(nil), "no strategy submits in an aborted cycle")
	}
	assert.NotEmpty(t, h.log.errorMsgs)
}

func TestRunCycle_PausedStrategySkipsCollection(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.engine.Pause(context.Background(), domain.StrategyDeepSeek))

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	res, _ := report.Result(domain.StrategyDeepSeek)
	assert.Equal(t, domain.StrategyPaused, res.Status)
	assert.Zero(t, h.strategies[domain.StrategyDeepSeek].Calls())
	assert.True(t, h.repo.saved[domain.StrategyDeepSeek].Paused)

	require.NoError(t, h.engine.Resume(context.Background(), domain.StrategyDeepSeek))
	assert.False(t, h.ledger(t, domain.StrategyDeepSeek).Paused())
	assert.Error(t, h.engine.Pause(context.Background(), "Nope"))
}

func TestRunCycle_AllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowList = []string{string(domain.StrategyMomentum)}
	h := newHarness(t, cfg)

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	res, _ := report.Result(domain.StrategyGemini)
	assert.Equal(t, domain.StrategySkipped, res.Status)
	res, _ = report.Result(domain.StrategyMomentum)
	assert.Equal(t, 1, res.Submitted)
}

func TestRunCycle_RetriesTransientFetchErrors(t *testing.T) {
	h := newHarness(t, testConfig())
	ok := signals(domain.StrategyChatGPT, "buy", "AAA")
	h.strategies[domain.StrategyChatGPT].set(func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		if call == 1 {
			return domain.RawOutput{}, ports.ErrProviderUnavailable
		}
		return ok(ctx, call, in)
	})
	h.strategies[domain.StrategyDeepSeek].set(func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		return domain.RawOutput{}, ports.ErrAuthenticationFailed
	})

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)

	res, _ := report.Result(domain.StrategyChatGPT)
	assert.Equal(t, domain.StrategyOK, res.Status)
	assert.Equal(t, 2, h.strategies[domain.StrategyChatGPT].Calls())

	res, _ = report.Result(domain.StrategyDeepSeek)
	assert.Equal(t, KindAuthentication, res.ErrorKind)
	assert.Equal(t, 1, h.strategies[domain.StrategyDeepSeek].Calls(), "auth failures are not retried")
}

func TestRunCycle_StrategyTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StrategyTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)
	h.strategies[domain.StrategyGemini].set(func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		<-ctx.Done()
		return domain.RawOutput{}, ctx.Err()
	})

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	res, _ := report.Result(domain.StrategyGemini)
	assert.Equal(t, domain.StrategyFailed, res.Status)
	assert.Equal(t, KindTimeout, res.ErrorKind)
	res, _ = report.Result(domain.StrategyMomentum)
	assert.Equal(t, 1, res.Submitted)
}

func TestRunCycle_ResubmitsRejectedOrders(t *testing.T) {
	h := newHarness(t, testConfig())
	h.reject("AAA", true)

	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.Error(t, err)
	res, _ := report.Result(domain.StrategyMomentum)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, KindSubmissionFailure, res.Rejections[0].Kind)

	h.reject("AAA", false)
	h.strategies[domain.StrategyMomentum].set(func(ctx context.Context, call int, in ports.StrategyInput) (domain.RawOutput, error) {
		return domain.RawOutput{StrategyID: domain.StrategyMomentum, Kind: domain.KindRule}, nil
	})
	report, err = h.engine.RunCycle(context.Background(), cycleAsOf.AddDate(0, 0, 7))
	require.NoError(t, err)

	res, _ = report.Result(domain.StrategyMomentum)
	assert.Equal(t, 1, res.Submitted)
	filled := h.ledger(t, domain.StrategyMomentum).FilledOrders()
	require.Len(t, filled, 1)
	assert.Equal(t, 2, filled[0].Attempt)
}

func TestRunCycle_UniverseFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.engine.universe = &mockUniverse{err: ports.ErrNotFound}
	report, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.Error(t, err)
	assert.NotEmpty(t, report.Error)
	assert.Zero(t, h.strategies[domain.StrategyMomentum].Calls())
}

func TestSweep_ExpiresPastMaxHold(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)

	none, err := h.engine.Sweep(context.Background(), cycleAsOf.AddDate(0, 0, 20))
	require.NoError(t, err)
	assert.Empty(t, none)

	expired, err := h.engine.Sweep(context.Background(), cycleAsOf.AddDate(0, 0, 22))
	require.NoError(t, err)
	assert.Len(t, expired, 7)
	for _, o := range expired {
		assert.Equal(t, domain.StateClosedExpired, o.State)
	}
}

func TestSweep_RecordsOneSnapshotPerTradingDay(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	_, err := h.engine.RunCycle(ctx, cycleAsOf)
	require.NoError(t, err)

	// Mon 9 June through Sat 14 June, two sweeps and one price print per day
	for d := 3; d <= 8; d++ {
		day := cycleAsOf.AddDate(0, 0, d)
		_, err := h.engine.HandleUpdate(ctx, domain.NewMarketUpdate("AAA", 95, day))
		require.NoError(t, err)
		_, err = h.engine.Sweep(ctx, day)
		require.NoError(t, err)
		_, err = h.engine.Sweep(ctx, day.Add(2*time.Hour))
		require.NoError(t, err)
	}

	h.market.mu.Lock()
	h.market.bars["AAA"] = append(h.market.bars["AAA"], domain.Bar{Ticker: "AAA", Time: cycleAsOf.AddDate(0, 0, 7), Close: 110})
	h.market.mu.Unlock()
	_, err = h.engine.Sweep(ctx, cycleAsOf.AddDate(0, 0, 7).Add(4*time.Hour))
	require.NoError(t, err)

	hist := h.ledger(t, domain.StrategyMomentum).History()
	require.Len(t, hist, 6, "Friday's cycle plus Monday to Friday, no Saturday")
	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i].Date.After(hist[i-1].Date))
		assert.NotEqual(t, time.Saturday, hist[i].Date.Weekday())
	}
	assert.InDelta(t, 90000+100*110.0, hist[len(hist)-1].Equity, 1e-6, "last sweep marks the held position to market")

	m := analytics.AnalyzePerformance(analytics.FromLedger(h.ledger(t, domain.StrategyMomentum).State(), 0.02))
	assert.Equal(t, 6, m.Days)
}

func TestHandleUpdate_ReconcilesEveryLedgerAndDiscardsReplays(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA"}, h.engine.WatchedTickers())

	u := domain.NewMarketUpdate("AAA", 90, cycleAsOf.Add(time.Hour))
	out, err := h.engine.HandleUpdate(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, out.Closed)

	out, err = h.engine.HandleUpdate(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Conflicts)

	out, err = h.engine.HandleUpdate(context.Background(), domain.NewMarketUpdate("AAA", 79, cycleAsOf.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Len(t, out.Closed, 7)
	for _, o := range out.Closed {
		assert.Equal(t, domain.StateClosedStop, o.State)
	}
	assert.Empty(t, h.engine.WatchedTickers())
}

func TestLiquidateAndRankings(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)

	done, err := h.engine.Liquidate(context.Background(), domain.StrategyRandomSharpe)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, domain.StateClosedManual, done[0].State)
	assert.Empty(t, h.ledger(t, domain.StrategyRandomSharpe).Positions())

	ranked, err := h.engine.Rankings("")
	require.NoError(t, err)
	assert.Len(t, ranked, 7)

	_, err = h.engine.Rankings("nonsense")
	assert.Error(t, err)
}

func TestLoad_RestoresPersistedLedgers(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.engine.RunCycle(context.Background(), cycleAsOf)
	require.NoError(t, err)
	want := h.ledger(t, domain.StrategyMomentum).State()

	h.book.Open(nil, 0, 0)
	h.book.Put(ledger.New(domain.StrategyMomentum, 1, 0))
	n, err := h.engine.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, want, h.ledger(t, domain.StrategyMomentum).State())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ports.ErrMalformedRecommendation, KindMalformedRecommendation},
		{ports.ErrInsufficientSizing, KindInsufficientSizing},
		{ports.ErrSubmissionFailure, KindSubmissionFailure},
		{ports.ErrReconciliationConflict, KindReconciliationConflict},
		{ports.ErrLedgerIsolationViolation, KindLedgerIsolationViolation},
		{context.DeadlineExceeded, KindTimeout},
		{ports.ErrRateLimited, KindRateLimited},
		{ports.ErrNoPrice, KindMarketData},
		{errors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}
