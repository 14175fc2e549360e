package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func closedOrder(id string, state domain.OrderState, fill, exit float64, filled, closed time.Time) domain.Order {
	return domain.Order{
		ID:         id,
		StrategyID: domain.StrategyMomentum,
		Ticker:     "ACME",
		Side:       domain.Buy,
		Quantity:   10,
		State:      state,
		FillPrice:  fill,
		ExitPrice:  exit,
		FilledAt:   filled,
		ClosedAt:   closed,
	}
}

func TestAnalyzePerformance_Trades(t *testing.T) {
	in := Input{
		StrategyID:      domain.StrategyMomentum,
		StartingCapital: 10000,
		Closed: []domain.Order{
			closedOrder("b", domain.StateClosedStop, 100, 90, day(6, 3), day(6, 4)),
			closedOrder("a", domain.StateClosedProfit, 100, 120, day(6, 1), day(6, 3)),
		},
	}

	metrics := AnalyzePerformance(in)

	if metrics.TotalTrades != 2 {
		t.Errorf("Expected 2 total trades, got %d", metrics.TotalTrades)
	}
	if metrics.WinningTrades != 1 || metrics.LosingTrades != 1 {
		t.Errorf("Expected 1 win and 1 loss, got %d/%d", metrics.WinningTrades, metrics.LosingTrades)
	}
	if metrics.WinRate != 0.5 {
		t.Errorf("Expected 0.5 win rate, got %f", metrics.WinRate)
	}
	assert.InDelta(t, 100.0, metrics.TotalProfit, 1e-9)
	assert.InDelta(t, 2.0, metrics.ProfitFactor, 1e-9)
	assert.InDelta(t, 200.0, metrics.AverageWin, 1e-9)
	assert.InDelta(t, -100.0, metrics.AverageLoss, 1e-9)
	assert.InDelta(t, 50.0, metrics.Expectancy, 1e-9)
	assert.Equal(t, 36*time.Hour, metrics.AverageTradeDuration)
	assert.Equal(t, 1, metrics.MaxConsecutiveWins)
	assert.Equal(t, 1, metrics.MaxConsecutiveLosses)
	assert.Equal(t, 1, metrics.ExitReasons[domain.StateClosedStop])
	assert.Equal(t, 1, metrics.ExitReasons[domain.StateClosedProfit])

	if metrics.FinalEquity != in.StartingCapital {
		t.Errorf("Expected final equity %f without history, got %f", in.StartingCapital, metrics.FinalEquity)
	}
}

func TestAnalyzePerformance_Equity(t *testing.T) {
	in := Input{
		StrategyID:      domain.StrategyClaude,
		StartingCapital: 1000,
		RiskFreeRate:    0.02,
		History: []domain.EquitySnapshot{
			{Date: day(6, 30), Equity: 990},
			{Date: day(6, 27), Equity: 1100},
			{Date: day(7, 1), Equity: 1100},
			{Date: day(7, 2), Equity: 1210},
			{Date: day(7, 3), Equity: 1331},
		},
	}

	m := AnalyzePerformance(in)

	assert.Equal(t, 5, m.Days)
	assert.Equal(t, 1331.0, m.FinalEquity)
	assert.InDelta(t, 0.331, m.TotalReturn, 1e-9)
	assert.InDelta(t, math.Pow(1.331, 252.0/5)-1, m.AnnualizedReturn, 1e-6)
	assert.InDelta(t, 0.1, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, m.AnnualizedReturn/0.1, m.CalmarRatio, 1e-6)
	assert.Greater(t, m.SharpeRatio, 0.0)
	assert.Greater(t, m.SortinoRatio, 0.0)
	assert.Greater(t, m.Volatility, 0.0)
	assert.InDelta(t, 0.1, m.VaR95, 1e-9)
	assert.InDelta(t, 0.1, m.CVaR95, 1e-9)

	require.Len(t, m.Drawdowns, 1)
	assert.True(t, m.Drawdowns[0].Recovered)
	assert.Equal(t, day(6, 30), m.Drawdowns[0].StartTime)
	assert.Equal(t, day(7, 1), m.Drawdowns[0].EndTime)

	require.Len(t, m.EquityCurve, 5)
	assert.InDelta(t, 0.1, m.EquityCurve[1].Drawdown, 1e-9)

	monthly := m.GetMonthlyReturns()
	require.Len(t, monthly, 2)
	assert.Equal(t, time.June, monthly[0].Month.Month())
	assert.InDelta(t, -0.01, monthly[0].Return, 1e-9)
	assert.InDelta(t, 1331.0/990-1, monthly[1].Return, 1e-9)
}

func TestAnalyzePerformance_Empty(t *testing.T) {
	m := AnalyzePerformance(Input{StrategyID: domain.StrategyGemini, StartingCapital: 500})
	assert.Equal(t, 500.0, m.FinalEquity)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.MaxDrawdown)
	assert.Empty(t, m.EquityCurve)
	assert.Zero(t, m.TotalTrades)
}

func TestFromLedger_OnlyClosedOrders(t *testing.T) {
	st := domain.LedgerState{
		StrategyID:      domain.StrategyDeepSeek,
		StartingCapital: 1000,
		Orders: []domain.Order{
			{ID: "1", State: domain.StateFilled},
			{ID: "2", State: domain.StateClosedExpired},
			{ID: "3", State: domain.StateRejected},
		},
	}
	in := FromLedger(st, 0.01)
	require.Len(t, in.Closed, 1)
	assert.Equal(t, "2", in.Closed[0].ID)
	assert.Equal(t, 0.01, in.RiskFreeRate)
}

func TestRank(t *testing.T) {
	a := &PerformanceMetrics{StrategyID: "A", SharpeRatio: 1, TotalReturn: 0.3, MaxDrawdown: 0.2}
	b := &PerformanceMetrics{StrategyID: "B", SharpeRatio: 2, TotalReturn: 0.1, MaxDrawdown: 0.1}
	c := &PerformanceMetrics{StrategyID: "C", SharpeRatio: 2, TotalReturn: 0.2, MaxDrawdown: 0.1}

	ranked, err := Rank([]*PerformanceMetrics{a, b, c}, MetricSharpe)
	require.NoError(t, err)
	ids := []domain.StrategyID{ranked[0].Metrics.StrategyID, ranked[1].Metrics.StrategyID, ranked[2].Metrics.StrategyID}
	assert.Equal(t, []domain.StrategyID{"C", "B", "A"}, ids, "ties broken by total return")
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 3, ranked[2].Rank)

	ranked, err = Rank([]*PerformanceMetrics{a, b, c}, MetricMaxDrawdown)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyID("C"), ranked[0].Metrics.StrategyID)
	assert.Equal(t, domain.StrategyID("A"), ranked[2].Metrics.StrategyID, "largest drawdown ranks last")

	ranked, err = Rank([]*PerformanceMetrics{a, b, c}, " Max_Drawdown ")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyID("C"), ranked[0].Metrics.StrategyID)
	assert.Equal(t, domain.StrategyID("A"), ranked[2].Metrics.StrategyID)
	assert.Equal(t, 0.2, ranked[2].Value)

	_, err = Rank([]*PerformanceMetrics{a}, "alpha")
	assert.Error(t, err)
}

func TestCompare_SkipsLedgersWithoutSuccessfulCycles(t *testing.T) {
	states := []domain.LedgerState{
		{StrategyID: "A", StartingCapital: 100, SuccessfulCycles: 1, History: []domain.EquitySnapshot{{Date: day(6, 2), Equity: 110}}},
		{StrategyID: "B", StartingCapital: 100, History: []domain.EquitySnapshot{{Date: day(6, 2), Equity: 200}}},
	}
	ranked, err := Compare(states, 0, MetricTotalReturn)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, domain.StrategyID("A"), ranked[0].Metrics.StrategyID)
	assert.InDelta(t, 0.1, ranked[0].Value, 1e-9)
}
