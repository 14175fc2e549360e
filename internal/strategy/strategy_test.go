package strategy

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockMarket struct {
	bars map[string][]domain.Bar
}

func (m *mockMarket) GetPrice(ctx context.Context, ticker string) (float64, error) {
	b := m.bars[ticker]
	if len(b) == 0 {
		return 0, ports.ErrNoPrice
	}
	return b[len(b)-1].Close, nil
}

func (m *mockMarket) GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error) {
	all, ok := m.bars[ticker]
	if !ok {
		return nil, ports.ErrNotFound
	}
	var out []domain.Bar
	for _, b := range all {
		if !b.Time.After(end) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type mockLLM struct {
	reply  string
	err    error
	prompt ports.Prompt
}

func (m *mockLLM) Query(ctx context.Context, p ports.Prompt) (string, error) {
	m.prompt = p
	return m.reply, m.err
}

func (m *mockLLM) Model() string { return "test-model" }

var asOf = time.Date(2025, 6, 6, 15, 30, 0, 0, time.UTC)

func series(ticker string, closes []float64, volumes []float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	start := asOf.AddDate(0, 0, -len(closes)+1)
	for i, c := range closes {
		v := 1000.0
		if volumes != nil {
			v = volumes[i]
		}
		out[i] = domain.Bar{Ticker: ticker, Time: start.AddDate(0, 0, i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: v}
	}
	return out
}

func rising(n int, rate float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 * math.Pow(1+rate, float64(i))
	}
	return out
}

func flat(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100
	}
	return out
}

func selloff() []float64 {
	var out []float64
	for i := 0; i < 40; i++ {
		out = append(out, 100+float64(i%2))
	}
	return append(out, 97, 94, 91, 88, 85)
}

func input(market ports.MarketData, tickers ...string) ports.StrategyInput {
	return ports.StrategyInput{
		AsOf:     asOf,
		Universe: domain.NewUniverse(asOf, tickers),
		Ledger:   domain.LedgerSnapshot{Equity: 100000, Cash: 100000, AvailableCash: 100000},
		Market:   market,
	}
}

func TestMomentum_PicksStrongTrendWithVolume(t *testing.T) {
	vols := make([]float64, 61)
	for i := range vols {
		vols[i] = 1000
	}
	vols[60] = 2000
	quiet := append([]float64(nil), vols...)
	quiet[60] = 1000

	market := &mockMarket{bars: map[string][]domain.Bar{
		"UP":    series("UP", rising(61, 0.01), vols),
		"NOVOL": series("NOVOL", rising(61, 0.01), quiet),
		"FLAT":  series("FLAT", flat(61), vols),
	}}
	s, err := NewMomentum(DefaultMomentumConfig(), &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 61, s.RequiredDataPoints())

	out, err := s.Recommend(context.Background(), input(market, "UP", "NOVOL", "FLAT", "MISSING"))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyMomentum, out.StrategyID)
	assert.Equal(t, domain.KindRule, out.Kind)
	require.Len(t, out.Signals, 1)
	assert.Equal(t, "UP", out.Signals[0].Ticker)
	assert.Equal(t, "buy", out.Signals[0].Action)
	assert.Contains(t, out.Signals[0].Reason, "volume 2.0x")
}

func TestMeanReversion_PicksOversold(t *testing.T) {
	market := &mockMarket{bars: map[string][]domain.Bar{
		"DROP": series("DROP", selloff(), nil),
		"FLAT": series("FLAT", flat(45), nil),
		"UP":   series("UP", rising(45, 0.01), nil),
	}}
	s, err := NewMeanReversion(DefaultMeanReversionConfig(), &mockLogger{})
	require.NoError(t, err)

	out, err := s.Recommend(context.Background(), input(market, "DROP", "FLAT", "UP"))
	require.NoError(t, err)
	require.Len(t, out.Signals, 1)
	assert.Equal(t, "DROP", out.Signals[0].Ticker)
	assert.Contains(t, out.Signals[0].Reason, "z-score")
}

func TestMomentum_TrendFilterRejectsBelowAverage(t *testing.T) {
	vols := make([]float64, 61)
	for i := range vols {
		vols[i] = 1000
	}
	vols[60] = 2000

	// every horizon clears the threshold but the spike keeps SMA20 above the last close
	spike := make([]float64, 61)
	for i := range spike {
		switch {
		case i <= 40:
			spike[i] = 100
		case i <= 49:
			spike[i] = 400
		case i <= 55:
			spike[i] = 120
		default:
			spike[i] = 125
		}
	}
	spike[60] = 130

	market := &mockMarket{bars: map[string][]domain.Bar{
		"UP":    series("UP", rising(61, 0.01), vols),
		"SPIKE": series("SPIKE", spike, vols),
	}}
	s, err := NewMomentum(DefaultMomentumConfig(), &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, "SMA", s.trend.Name())
	assert.Equal(t, 20, s.trend.RequiredDataPoints())

	out, err := s.Recommend(context.Background(), input(market, "UP", "SPIKE"))
	require.NoError(t, err)
	require.Len(t, out.Signals, 1)
	assert.Equal(t, "UP", out.Signals[0].Ticker)
	assert.Contains(t, out.Signals[0].Reason, "above SMA20")
}

func TestMeanReversion_RSIOversoldLevel(t *testing.T) {
	market := &mockMarket{bars: map[string][]domain.Bar{
		"DROP": series("DROP", selloff(), nil),
	}}
	cfg := DefaultMeanReversionConfig()
	s, err := NewMeanReversion(cfg, &mockLogger{})
	require.NoError(t, err)
	assert.True(t, s.rsi.IsOversold(cfg.RSIOversold))
	assert.True(t, s.rsi.IsOverbought(100-cfg.RSIOversold))
	assert.Equal(t, cfg.RSIPeriod+1, s.rsi.RequiredDataPoints())

	// the selloff leaves RSI14 near 20
	cfg.RSIOversold = 15
	strict, err := NewMeanReversion(cfg, &mockLogger{})
	require.NoError(t, err)

	out, err := strict.Recommend(context.Background(), input(market, "DROP"))
	require.NoError(t, err)
	assert.Empty(t, out.Signals)

	out, err = s.Recommend(context.Background(), input(market, "DROP"))
	require.NoError(t, err)
	require.Len(t, out.Signals, 1)
	assert.Contains(t, out.Signals[0].Reason, "RSI14")
}

func TestRuleStrategy_NoMarketData(t *testing.T) {
	s, err := NewMeanReversion(DefaultMeanReversionConfig(), &mockLogger{})
	require.NoError(t, err)

	_, err = s.Recommend(context.Background(), input(&mockMarket{bars: map[string][]domain.Bar{}}, "AAA"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestRandomSharpe_DeterministicAndUnique(t *testing.T) {
	market := &mockMarket{bars: map[string][]domain.Bar{
		"A": series("A", rising(30, 0.01), nil),
		"B": series("B", rising(30, 0.005), nil),
		"C": series("C", rising(30, 0.002), nil),
	}}
	cfg := DefaultRandomSharpeConfig()
	cfg.Lookback = 20
	cfg.MaxPositions = 5
	cfg.MinSharpe = math.Inf(-1)
	cfg.Seed = 42
	s, err := NewRandomSharpe(cfg, &mockLogger{})
	require.NoError(t, err)

	first, err := s.Recommend(context.Background(), input(market, "A", "B", "C"))
	require.NoError(t, err)
	second, err := s.Recommend(context.Background(), input(market, "A", "B", "C"))
	require.NoError(t, err)

	require.Len(t, first.Signals, 3, "draws without replacement until the pool is empty")
	assert.Equal(t, first.Signals, second.Signals)
	seen := map[string]bool{}
	for _, sig := range first.Signals {
		assert.False(t, seen[sig.Ticker])
		seen[sig.Ticker] = true
		assert.Greater(t, sig.Confidence, 0.0)
	}
}

func TestLLM_PromptAndRawText(t *testing.T) {
	client := &mockLLM{reply: `{"recommendations":[]}`}
	s, err := NewLLM(domain.StrategyClaude, client, DefaultLLMConfig(), &mockLogger{})
	require.NoError(t, err)

	market := &mockMarket{bars: map[string][]domain.Bar{"AAPL": series("AAPL", rising(21, 0.01), nil)}}
	in := input(market, "AAPL", "MSFT")
	in.Ledger.Positions = map[string]domain.Position{"MSFT": {Ticker: "MSFT", Side: domain.Buy, Quantity: 10, AvgPrice: 400, LastPrice: 410}}

	out, err := s.Recommend(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, client.reply, out.Text)
	assert.Equal(t, domain.KindLLM, out.Kind)
	assert.Equal(t, "test-model", out.Model)

	user := client.prompt.User
	assert.Contains(t, user, "MSFT buy 10 @ 400.00")
	assert.Contains(t, user, "- AAPL price")
	assert.Contains(t, user, "- MSFT\n")
	assert.Contains(t, user, `"recommendations"`)
	assert.Contains(t, user, "at most 0.050")
	assert.NotEmpty(t, client.prompt.System)

	client.err = ports.ErrRateLimited
	_, err = s.Recommend(context.Background(), in)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))
}

func TestCandidates(t *testing.T) {
	tickers := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		tickers = append(tickers, string(rune('A'+i%26))+strings.Repeat("X", i/26+1))
	}
	in := input(nil, tickers...)
	in.Ledger.Positions = map[string]domain.Position{"ZZZZ": {}, tickers[10]: {}}

	a := Candidates(domain.StrategyGemini, in, 5)
	b := Candidates(domain.StrategyGemini, in, 5)
	assert.Equal(t, a, b)
	assert.Len(t, a, 5)
	assert.Equal(t, tickers[10], a[0], "held tickers in the universe come first")
	assert.NotContains(t, a, "ZZZZ")

	all := Candidates(domain.StrategyGemini, in, 0)
	assert.Len(t, all, 50)
}

func TestRegistry(t *testing.T) {
	m, _ := NewMomentum(DefaultMomentumConfig(), &mockLogger{})
	r2, _ := NewRandomSharpe(DefaultRandomSharpeConfig(), &mockLogger{})
	llm, _ := NewLLM(domain.StrategyChatGPT, &mockLLM{}, DefaultLLMConfig(), &mockLogger{})

	reg, err := NewRegistry(r2, m, llm)
	require.NoError(t, err)
	assert.Equal(t, []domain.StrategyID{domain.StrategyChatGPT, domain.StrategyMomentum, domain.StrategyRandomSharpe}, reg.IDs())
	got, ok := reg.Get(domain.StrategyMomentum)
	assert.True(t, ok)
	assert.Equal(t, domain.StrategyMomentum, got.ID())

	_, err = NewRegistry(m, m)
	assert.Error(t, err)
}
