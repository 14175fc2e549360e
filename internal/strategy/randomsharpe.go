package strategy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/indicators"
)

// RandomSharpeConfig holds parameters for the random Sharpe-weighted strategy
type RandomSharpeConfig struct {
	Lookback      int     // trailing days for the Sharpe estimate
	MinSharpe     float64 // candidates below this are never picked
	Noise         float64 // uniform noise added to percentile weights
	RiskFreeRate  float64
	Seed          int64 // 0 derives the seed from the cycle date
	MaxCandidates int
	MaxPositions  int
}

// DefaultRandomSharpeConfig returns the standard parameters.
func DefaultRandomSharpeConfig() RandomSharpeConfig {
	return RandomSharpeConfig{
		Lookback:      252,
		MinSharpe:     -1.0,
		Noise:         0.1,
		RiskFreeRate:  0.02,
		MaxCandidates: 200,
		MaxPositions:  10,
	}
}

// RandomSharpe picks tickers at random, weighted by the percentile of their
// trailing Sharpe ratio.
type RandomSharpe struct {
	cfg    RandomSharpeConfig
	logger ports.Logger
}

// NewRandomSharpe creates the Random-SharpeWeighted strategy.
func NewRandomSharpe(cfg RandomSharpeConfig, logger ports.Logger) (*RandomSharpe, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.Lookback < 3 || cfg.MaxPositions <= 0 {
		return nil, fmt.Errorf("random sharpe lookback and max positions must be positive")
	}
	return &RandomSharpe{cfg: cfg, logger: logger}, nil
}

func (r *RandomSharpe) ID() domain.StrategyID     { return domain.StrategyRandomSharpe }
func (r *RandomSharpe) Kind() domain.StrategyKind { return domain.KindRule }

// Recommend draws up to MaxPositions tickers without replacement.
func (r *RandomSharpe) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	tickers := Candidates(r.ID(), in, r.cfg.MaxCandidates)
	// a quarter of the lookback is enough for a usable estimate on young listings
	data, err := history(ctx, in.Market, tickers, in.AsOf, r.cfg.Lookback+1, r.cfg.Lookback/4)
	if err != nil {
		return domain.RawOutput{}, fmt.Errorf("random sharpe: %w", err)
	}

	type entry struct {
		ticker string
		sharpe float64
		weight float64
	}
	var pool []entry
	for _, t := range tickers {
		bars, ok := data[t]
		if !ok {
			continue
		}
		s := indicators.AnnualizedSharpe(indicators.DailyReturns(indicators.Closes(bars)), r.cfg.RiskFreeRate)
		if math.IsNaN(s) || s < r.cfg.MinSharpe {
			continue
		}
		pool = append(pool, entry{ticker: t, sharpe: s})
	}
	if len(pool) == 0 {
		return domain.RawOutput{StrategyID: r.ID(), Kind: r.Kind(), ProducedAt: in.AsOf}, nil
	}

	seed := r.cfg.Seed
	if seed == 0 {
		seed = seedFor(r.ID(), in.AsOf)
	}
	rng := rand.New(rand.NewSource(seed))

	// percentile rank in (0, 1], plus noise
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].sharpe != pool[j].sharpe {
			return pool[i].sharpe < pool[j].sharpe
		}
		return pool[i].ticker < pool[j].ticker
	})
	for i := range pool {
		pool[i].weight = float64(i+1)/float64(len(pool)) + rng.Float64()*r.cfg.Noise
	}

	var signals []domain.Signal
	for len(signals) < r.cfg.MaxPositions && len(pool) > 0 {
		total := 0.0
		for _, e := range pool {
			total += e.weight
		}
		pick := rng.Float64() * total
		idx := len(pool) - 1
		for i, e := range pool {
			pick -= e.weight
			if pick <= 0 {
				idx = i
				break
			}
		}
		e := pool[idx]
		pool = append(pool[:idx], pool[idx+1:]...)
		signals = append(signals, domain.Signal{
			Ticker:     e.ticker,
			Action:     string(domain.Buy),
			Confidence: math.Min(1, e.weight),
			Reason:     fmt.Sprintf("trailing Sharpe %.2f", e.sharpe),
		})
	}

	r.logger.Debug(ctx, "Random Sharpe draw complete", map[string]interface{}{
		"strategy": r.ID(),
		"seed":     seed,
		"picked":   len(signals),
	})
	return domain.RawOutput{StrategyID: r.ID(), Kind: r.Kind(), Signals: signals, ProducedAt: in.AsOf}, nil
}
