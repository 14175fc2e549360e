// Package analytics computes per-portfolio performance metrics from a
// ledger's equity history and closed orders, and ranks portfolios against
// each other. Everything here is a pure read over ledger state.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// TradingDays is the annualization factor for daily series.
const TradingDays = 252

// PerformanceMetrics holds comprehensive performance metrics for a strategy
type PerformanceMetrics struct {
	StrategyID      domain.StrategyID `json:"strategy_id"`
	StartingCapital float64           `json:"starting_capital"`
	FinalEquity     float64           `json:"final_equity"`
	Days            int               `json:"days"`

	// Return and risk
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	VaR95            float64 `json:"var_95"`
	CVaR95           float64 `json:"cvar_95"`

	// Trades
	TotalTrades          int                       `json:"total_trades"`
	WinningTrades        int                       `json:"winning_trades"`
	LosingTrades         int                       `json:"losing_trades"`
	WinRate              float64                   `json:"win_rate"`
	TotalProfit          float64                   `json:"total_profit"`
	ProfitFactor         float64                   `json:"profit_factor"`
	AverageWin           float64                   `json:"average_win"`
	AverageLoss          float64                   `json:"average_loss"`
	Expectancy           float64                   `json:"expectancy"`
	MaxConsecutiveWins   int                       `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int                       `json:"max_consecutive_losses"`
	AverageTradeDuration time.Duration             `json:"average_trade_duration"`
	ExitReasons          map[domain.OrderState]int `json:"exit_reasons"`

	MonthlyReturns map[string]float64 `json:"monthly_returns"`
	Drawdowns      []Drawdown         `json:"drawdowns"`
	EquityCurve    []EquityPoint      `json:"equity_curve"`
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	StartValue float64       `json:"start_value"`
	EndValue   float64       `json:"end_value"`
	Depth      float64       `json:"depth"`
	Duration   time.Duration `json:"duration"`
	Recovered  bool          `json:"recovered"`
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Drawdown float64   `json:"drawdown"`
}

// Input is what the aggregator reads from one ledger.
type Input struct {
	StrategyID      domain.StrategyID
	StartingCapital float64
	History         []domain.EquitySnapshot
	Closed          []domain.Order
	RiskFreeRate    float64 // annual
}

// FromLedger builds the aggregator input from a persisted ledger.
func FromLedger(st domain.LedgerState, riskFreeRate float64) Input {
	in := Input{
		StrategyID:      st.StrategyID,
		StartingCapital: st.StartingCapital,
		History:         st.History,
		RiskFreeRate:    riskFreeRate,
	}
	for _, o := range st.Orders {
		if o.State.IsClosed() {
			in.Closed = append(in.Closed, o)
		}
	}
	return in
}

// AnalyzePerformance calculates comprehensive performance metrics
func AnalyzePerformance(in Input) *PerformanceMetrics {
	m := &PerformanceMetrics{
		StrategyID:      in.StrategyID,
		StartingCapital: in.StartingCapital,
		FinalEquity:     in.StartingCapital,
		ExitReasons:     make(map[domain.OrderState]int),
		MonthlyReturns:  make(map[string]float64),
		Drawdowns:       make([]Drawdown, 0),
		EquityCurve:     make([]EquityPoint, 0, len(in.History)),
	}
	analyzeEquity(m, in)
	analyzeTrades(m, in.Closed)
	return m
}

func analyzeEquity(m *PerformanceMetrics, in Input) {
	hist := append([]domain.EquitySnapshot(nil), in.History...)
	if len(hist) == 0 {
		return
	}
	sort.SliceStable(hist, func(i, j int) bool { return hist[i].Date.Before(hist[j].Date) })

	base := in.StartingCapital
	if base <= 0 {
		base = hist[0].Equity
	}
	m.Days = len(hist)
	m.FinalEquity = hist[len(hist)-1].Equity
	if base > 0 {
		m.TotalReturn = m.FinalEquity/base - 1
	}

	returns := make([]float64, 0, len(hist))
	prev := base
	for _, h := range hist {
		if prev > 0 {
			returns = append(returns, h.Equity/prev-1)
		}
		prev = h.Equity
	}

	if n := len(returns); n > 0 && m.TotalReturn > -1 {
		m.AnnualizedReturn = math.Pow(1+m.TotalReturn, float64(TradingDays)/float64(n)) - 1
	}

	rfDaily := in.RiskFreeRate / TradingDays
	mean, std := meanStd(returns)
	m.Volatility = std * math.Sqrt(TradingDays)
	if std > 0 {
		m.SharpeRatio = (mean - rfDaily) / std * math.Sqrt(TradingDays)
	}
	if dd := downsideDeviation(returns, rfDaily); dd > 0 {
		m.SortinoRatio = (mean - rfDaily) / dd * math.Sqrt(TradingDays)
	}
	m.VaR95, m.CVaR95 = valueAtRisk(returns, 0.95)

	drawdowns(m, hist, base)
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}
	monthly(m, hist, base)
}

func drawdowns(m *PerformanceMetrics, hist []domain.EquitySnapshot, base float64) {
	peak := base
	var current *Drawdown
	for _, h := range hist {
		if h.Equity >= peak {
			peak = h.Equity
			if current != nil {
				current.EndTime = h.Date
				current.EndValue = h.Equity
				current.Duration = current.EndTime.Sub(current.StartTime)
				current.Recovered = true
				m.Drawdowns = append(m.Drawdowns, *current)
				current = nil
			}
		} else if peak > 0 {
			depth := (peak - h.Equity) / peak
			if current == nil {
				current = &Drawdown{StartTime: h.Date, StartValue: peak, Depth: depth}
			}
			current.Depth = math.Max(current.Depth, depth)
			m.MaxDrawdown = math.Max(m.MaxDrawdown, depth)
		}

		dd := 0.0
		if peak > 0 {
			dd = (peak - h.Equity) / peak
		}
		m.EquityCurve = append(m.EquityCurve, EquityPoint{Time: h.Date, Value: h.Equity, Drawdown: dd})
	}
	if current != nil {
		last := hist[len(hist)-1]
		current.EndTime = last.Date
		current.EndValue = last.Equity
		current.Duration = current.EndTime.Sub(current.StartTime)
		m.Drawdowns = append(m.Drawdowns, *current)
	}
}

func monthly(m *PerformanceMetrics, hist []domain.EquitySnapshot, base float64) {
	prevClose := base
	for i, h := range hist {
		last := i == len(hist)-1 || hist[i+1].Date.Format("2006-01") != h.Date.Format("2006-01")
		if !last {
			continue
		}
		if prevClose > 0 {
			m.MonthlyReturns[h.Date.Format("2006-01")] = h.Equity/prevClose - 1
		}
		prevClose = h.Equity
	}
}

func analyzeTrades(m *PerformanceMetrics, closed []domain.Order) {
	trades := append([]domain.Order(nil), closed...)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })

	var grossWin, grossLoss float64
	var wins, losses int
	var totalDuration time.Duration
	for _, o := range trades {
		pnl := o.PNL()
		m.TotalTrades++
		m.TotalProfit += pnl
		m.ExitReasons[o.State]++
		totalDuration += o.HoldingPeriod()

		if pnl > 0 {
			m.WinningTrades++
			grossWin += pnl
			wins++
			losses = 0
		} else {
			m.LosingTrades++
			grossLoss += -pnl
			losses++
			wins = 0
		}
		if wins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = wins
		}
		if losses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = losses
		}
	}
	if m.TotalTrades == 0 {
		return
	}

	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AverageWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossWin / grossLoss
	}
	m.Expectancy = m.WinRate*m.AverageWin + (1-m.WinRate)*m.AverageLoss
	m.AverageTradeDuration = totalDuration / time.Duration(m.TotalTrades)
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)-1))
}

func downsideDeviation(returns []float64, target float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if d := r - target; d < 0 {
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// valueAtRisk returns historical VaR and CVaR as positive loss fractions.
func valueAtRisk(returns []float64, confidence float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	cutoff := sorted[idx]
	tail, n := 0.0, 0
	for _, r := range sorted[:idx+1] {
		tail += r
		n++
	}
	return math.Max(0, -cutoff), math.Max(0, -tail/float64(n))
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, r := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, Return: r})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// Metric names accepted by Value and Rank.
const (
	MetricSharpe           = "sharpe"
	MetricSortino          = "sortino"
	MetricCalmar           = "calmar"
	MetricTotalReturn      = "total_return"
	MetricAnnualizedReturn = "annualized_return"
	MetricMaxDrawdown      = "max_drawdown"
	MetricWinRate          = "win_rate"
	MetricProfitFactor     = "profit_factor"
)

// Metrics lists the rankable metric names.
var Metrics = []string{
	MetricSharpe, MetricSortino, MetricCalmar, MetricTotalReturn,
	MetricAnnualizedReturn, MetricMaxDrawdown, MetricWinRate, MetricProfitFactor,
}

// NormalizeMetric folds case and surrounding space out of a metric name.
func NormalizeMetric(metric string) string {
	return strings.ToLower(strings.TrimSpace(metric))
}

// Value returns one named metric.
func (m *PerformanceMetrics) Value(metric string) (float64, error) {
	switch NormalizeMetric(metric) {
	case MetricSharpe, "sharpe_ratio":
		return m.SharpeRatio, nil
	case MetricSortino, "sortino_ratio":
		return m.SortinoRatio, nil
	case MetricCalmar, "calmar_ratio":
		return m.CalmarRatio, nil
	case MetricTotalReturn:
		return m.TotalReturn, nil
	case MetricAnnualizedReturn:
		return m.AnnualizedReturn, nil
	case MetricMaxDrawdown:
		return m.MaxDrawdown, nil
	case MetricWinRate:
		return m.WinRate, nil
	case MetricProfitFactor:
		return m.ProfitFactor, nil
	}
	return 0, fmt.Errorf("unknown metric %q (valid: %s)", metric, strings.Join(Metrics, ", "))
}
