package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
	"github.com/winniepooh001/GPTComparison/internal/strategy/backtesting"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name  string
	Min   float64
	Max   float64
	Step  float64
	IsInt bool
}

// OptimizationResult holds the results of one parameter combination
type OptimizationResult struct {
	Parameters map[string]float64
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// Factory builds a strategy from one parameter combination.
type Factory func(params map[string]float64, logger ports.Logger) (ports.Strategy, error)

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Backtest        backtesting.BacktestConfig
	Metric          string // ranking metric used when ScoreFunction is nil
	Workers         int    // concurrent backtests, GOMAXPROCS when zero
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
}

// Optimizer implements strategy parameter optimization
type Optimizer struct {
	config OptimizerConfig
	logger ports.Logger
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, logger ports.Logger) (*Optimizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for optimizer")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("at least one parameter range is required")
	}
	for _, r := range config.ParameterRanges {
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("invalid range for %s: min %g max %g step %g", r.Name, r.Min, r.Max, r.Step)
		}
	}
	if config.ScoreFunction == nil {
		metric := config.Metric
		if metric == "" {
			metric = config.Backtest.Engine.RankingMetric
		}
		if _, err := (&analytics.PerformanceMetrics{}).Value(metric); err != nil {
			return nil, err
		}
		config.ScoreFunction = MetricScore(metric)
	}
	if config.Workers <= 0 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Optimizer{config: config, logger: logger}, nil
}

// Combinations returns the size of the parameter grid.
func (o *Optimizer) Combinations() int {
	return len(o.generateParameterCombinations())
}

// Optimize backtests the strategy once per parameter combination and returns
// the results best first. Each backtest replays the bars on its own market
// clock. Combinations whose strategy or backtest fails are logged and
// skipped; an error is returned only when every combination fails.
func (o *Optimizer) Optimize(ctx context.Context, factory Factory, bars []domain.Bar) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()
	results := make([]*OptimizationResult, len(combinations))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := o.evaluate(ctx, factory, combinations[i], bars)
				if err != nil {
					o.logger.Warn(ctx, "Parameter combination failed", map[string]interface{}{
						"parameters": combinations[i],
						"error":      err.Error(),
					})
					continue
				}
				results[i] = res
			}
		}()
	}

feed:
	for i := range combinations {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]OptimizationResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("all %d parameter combinations failed", len(combinations))
	}
	sortResultsByScore(out)

	o.logger.Info(ctx, "Optimization complete", map[string]interface{}{
		"combinations": len(combinations),
		"succeeded":    len(out),
		"best_score":   out[0].Score,
	})
	return out, nil
}

func (o *Optimizer) evaluate(ctx context.Context, factory Factory, params map[string]float64, bars []domain.Bar) (*OptimizationResult, error) {
	strategy, err := factory(params, o.logger)
	if err != nil {
		return nil, err
	}
	result, err := backtesting.Backtest(ctx, []ports.Strategy{strategy}, backtesting.NewHistoricalMarket(bars), o.config.Backtest, o.logger)
	if err != nil {
		return nil, err
	}
	metrics := result.Metrics[strategy.ID()]
	if metrics == nil {
		return nil, fmt.Errorf("backtest produced no metrics for %s", strategy.ID())
	}
	return &OptimizationResult{
		Parameters: params,
		Metrics:    metrics,
		Score:      o.config.ScoreFunction(metrics),
	}, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		seen := make(map[float64]bool)
		// half a step of slack absorbs floating point drift at the upper bound
		for i := 0; ; i++ {
			value := param.Min + float64(i)*param.Step
			if value > param.Max+param.Step/2 {
				break
			}
			if param.IsInt {
				value = math.Round(value)
			}
			if seen[value] {
				continue
			}
			seen[value] = true
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}

	generate(0)
	return combinations
}

// sortResultsByScore sorts optimization results by score in descending order,
// keeping grid order between equal scores.
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// MetricScore scores by one ranking metric, negating max drawdown so that a
// higher score is always better.
func MetricScore(metric string) func(*analytics.PerformanceMetrics) float64 {
	metric = analytics.NormalizeMetric(metric)
	return func(m *analytics.PerformanceMetrics) float64 {
		v, err := m.Value(metric)
		if err != nil {
			return math.Inf(-1)
		}
		if metric == analytics.MetricMaxDrawdown {
			return -v
		}
		return v
	}
}

// DefaultScoreFunction blends risk-adjusted return, drawdown and hit rate.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	score := 0.0
	score += metrics.SharpeRatio * 0.4
	score += metrics.TotalReturn * 0.3
	score += (1 - metrics.MaxDrawdown) * 0.2
	score += metrics.WinRate * 0.1
	return score
}
