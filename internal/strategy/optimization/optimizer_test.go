package optimization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/config"
	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
	"github.com/winniepooh001/GPTComparison/internal/strategy/backtesting"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// MockStrategy buys AAA on every cycle when enabled and recommends nothing
// otherwise.
type MockStrategy struct {
	buy bool
}

func (m *MockStrategy) ID() domain.StrategyID     { return domain.StrategyMomentum }
func (m *MockStrategy) Kind() domain.StrategyKind { return domain.KindRule }

func (m *MockStrategy) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	out := domain.RawOutput{StrategyID: m.ID(), Kind: domain.KindRule}
	if m.buy {
		out.Signals = append(out.Signals, domain.Signal{Ticker: "AAA", Action: "buy", Confidence: 0.7})
	}
	return out, nil
}

func mockFactory(params map[string]float64, logger ports.Logger) (ports.Strategy, error) {
	if params["fail"] == 1 {
		return nil, errors.New("rejected combination")
	}
	return &MockStrategy{buy: params["buy"] == 1}, nil
}

// risingBars builds one bar per weekday, gaining a dollar a day.
func risingBars(start, end time.Time) []domain.Bar {
	var out []domain.Bar
	price := 100.0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, domain.Bar{
			Ticker: "AAA",
			Time:   time.Date(d.Year(), d.Month(), d.Day(), 4, 0, 0, 0, time.UTC),
			Open:   price,
			High:   price + 0.5,
			Low:    price - 0.5,
			Close:  price,
			Volume: 1e6,
		})
		price++
	}
	return out
}

func date(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func backtestConfig() backtesting.BacktestConfig {
	cfg := backtesting.BacktestConfig{
		StartTime: date(time.June, 3),
		EndTime:   date(time.June, 28),
		Engine:    config.DefaultEngineConfig(),
	}
	cfg.Engine.TransactionCost = 0
	return cfg
}

func TestOptimizer(t *testing.T) {
	opt, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{
			{Name: "buy", Min: 0, Max: 1, Step: 1, IsInt: true},
			{Name: "fail", Min: 0, Max: 1, Step: 1, IsInt: true},
		},
		Backtest: backtestConfig(),
		Metric:   analytics.MetricTotalReturn,
		Workers:  2,
	}, &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 4, opt.Combinations())

	results, err := opt.Optimize(context.Background(), mockFactory, risingBars(date(time.March, 1), date(time.June, 28)))
	require.NoError(t, err)
	require.Len(t, results, 2)

	best, idle := results[0], results[1]
	assert.Equal(t, 1.0, best.Parameters["buy"])
	assert.Equal(t, 0.0, idle.Parameters["buy"])
	assert.Greater(t, best.Score, 0.0)
	assert.InDelta(t, 0, idle.Score, 1e-9)
	assert.Equal(t, domain.StrategyMomentum, best.Metrics.StrategyID)
	assert.InDelta(t, best.Metrics.TotalReturn, best.Score, 1e-12)
}

func TestOptimizer_AllFail(t *testing.T) {
	opt, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: "fail", Min: 1, Max: 1, Step: 1}},
		Backtest:        backtestConfig(),
	}, &mockLogger{})
	require.NoError(t, err)

	_, err = opt.Optimize(context.Background(), mockFactory, risingBars(date(time.March, 1), date(time.June, 28)))
	assert.Error(t, err)
}

func TestOptimizer_Cancelled(t *testing.T) {
	opt, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: []ParameterRange{{Name: "buy", Min: 0, Max: 1, Step: 1}},
		Backtest:        backtestConfig(),
	}, &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = opt.Optimize(ctx, mockFactory, risingBars(date(time.March, 1), date(time.June, 28)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOptimizer_Validation(t *testing.T) {
	good := []ParameterRange{{Name: "x", Min: 1, Max: 2, Step: 1}}
	tests := []struct {
		name   string
		cfg    OptimizerConfig
		logger ports.Logger
	}{
		{"no logger", OptimizerConfig{ParameterRanges: good, Backtest: backtestConfig()}, nil},
		{"no ranges", OptimizerConfig{Backtest: backtestConfig()}, &mockLogger{}},
		{"zero step", OptimizerConfig{ParameterRanges: []ParameterRange{{Name: "x", Min: 1, Max: 2}}, Backtest: backtestConfig()}, &mockLogger{}},
		{"inverted", OptimizerConfig{ParameterRanges: []ParameterRange{{Name: "x", Min: 3, Max: 2, Step: 1}}, Backtest: backtestConfig()}, &mockLogger{}},
		{"bad metric", OptimizerConfig{ParameterRanges: good, Backtest: backtestConfig(), Metric: "luck"}, &mockLogger{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptimizer(tt.cfg, tt.logger)
			assert.Error(t, err)
		})
	}
}

func TestGenerateParameterCombinations(t *testing.T) {
	o := &Optimizer{config: OptimizerConfig{ParameterRanges: []ParameterRange{
		{Name: "period", Min: 10, Max: 11, Step: 0.4, IsInt: true},
		{Name: "z", Min: 0.1, Max: 0.3, Step: 0.1},
	}}}
	combos := o.generateParameterCombinations()

	// period rounds 10, 10.4, 10.8 to 10, 11, 11 and keeps each value once
	require.Len(t, combos, 6)
	assert.Equal(t, map[string]float64{"period": 10, "z": 0.1}, combos[0])
	assert.Equal(t, 11.0, combos[5]["period"])
	assert.InDelta(t, 0.3, combos[5]["z"], 1e-9)
}

func TestMetricScore(t *testing.T) {
	m := &analytics.PerformanceMetrics{SharpeRatio: 1.2, MaxDrawdown: 0.15}
	assert.Equal(t, 1.2, MetricScore(analytics.MetricSharpe)(m))
	assert.Equal(t, -0.15, MetricScore(analytics.MetricMaxDrawdown)(m))
	assert.Equal(t, -0.15, MetricScore("MAX_DRAWDOWN ")(m))

	results := []OptimizationResult{{Score: 1}, {Score: 3}, {Score: 2}}
	sortResultsByScore(results)
	assert.Equal(t, []float64{3, 2, 1}, []float64{results[0].Score, results[1].Score, results[2].Score})
}

func TestFactories(t *testing.T) {
	log := &mockLogger{}

	s, err := MomentumFactory(strategy.DefaultMomentumConfig())(map[string]float64{ParamThreshold: 0.03, ParamSMAPeriod: 30}, log)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyMomentum, s.ID())

	s, err = MeanReversionFactory(strategy.DefaultMeanReversionConfig())(map[string]float64{ParamZThreshold: 1.5}, log)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyMeanReversion, s.ID())

	s, err = RandomSharpeFactory(strategy.DefaultRandomSharpeConfig())(map[string]float64{ParamLookback: 63}, log)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyRandomSharpe, s.ID())

	_, err = MomentumFactory(strategy.DefaultMomentumConfig())(map[string]float64{ParamZThreshold: 2}, log)
	assert.Error(t, err)
	_, err = MeanReversionFactory(strategy.DefaultMeanReversionConfig())(map[string]float64{ParamPeriod: 1}, log)
	assert.Error(t, err)
}

func TestDefaultRanges(t *testing.T) {
	for _, id := range []domain.StrategyID{domain.StrategyMomentum, domain.StrategyMeanReversion, domain.StrategyRandomSharpe} {
		ranges, err := DefaultRanges(id)
		require.NoError(t, err, id)
		_, err = NewOptimizer(OptimizerConfig{ParameterRanges: ranges, Backtest: backtestConfig()}, &mockLogger{})
		assert.NoError(t, err, id)
	}
	_, err := DefaultRanges(domain.StrategyClaude)
	assert.ErrorIs(t, err, ports.ErrUnknownStrategy)

	assert.Equal(t, "period=20 z_threshold=1.5", FormatParameters(map[string]float64{ParamZThreshold: 1.5, ParamPeriod: 20}))
}
