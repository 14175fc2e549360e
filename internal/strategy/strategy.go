// Package strategy implements the seven recommendation strategies. Every
// strategy produces raw output for the normalizer; none of them sizes,
// submits or touches a ledger.
package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Registry holds the configured strategies by ID.
type Registry struct {
	strategies map[domain.StrategyID]ports.Strategy
}

// NewRegistry builds a registry, rejecting duplicate IDs.
func NewRegistry(list ...ports.Strategy) (*Registry, error) {
	r := &Registry{strategies: make(map[domain.StrategyID]ports.Strategy, len(list))}
	for _, s := range list {
		if s == nil {
			continue
		}
		if _, dup := r.strategies[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate strategy %s", s.ID())
		}
		r.strategies[s.ID()] = s
	}
	return r, nil
}

// Get returns a strategy by ID.
func (r *Registry) Get(id domain.StrategyID) (ports.Strategy, bool) {
	s, ok := r.strategies[id]
	return s, ok
}

// IDs lists registered strategies in display order.
func (r *Registry) IDs() []domain.StrategyID {
	order := make(map[domain.StrategyID]int, len(domain.AllStrategies))
	for i, id := range domain.AllStrategies {
		order[id] = i
	}
	out := make([]domain.StrategyID, 0, len(r.strategies))
	for id := range r.strategies {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		oi, iok := order[out[i]]
		oj, jok := order[out[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return out[i] < out[j]
	})
	return out
}

// Len is the number of registered strategies.
func (r *Registry) Len() int {
	return len(r.strategies)
}

// Candidates picks up to n tickers from the universe for one strategy and
// date. The pick is a seeded shuffle, so a rerun of the same cycle sees the
// same candidates. Held tickers are always included.
func Candidates(id domain.StrategyID, in ports.StrategyInput, n int) []string {
	all := in.Universe.Tickers()
	seen := make(map[string]bool)
	var out []string
	for t := range in.Ledger.Positions {
		if in.Universe.Contains(t) && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)

	if n <= 0 || n >= len(all) {
		for _, t := range all {
			if !seen[t] {
				out = append(out, t)
			}
		}
		return out
	}

	rng := rand.New(rand.NewSource(seedFor(id, in.AsOf)))
	rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	for _, t := range all {
		if len(out) >= n {
			break
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func seedFor(id domain.StrategyID, asOf time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	h.Write([]byte(asOf.Format("2006-01-02")))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// history fetches daily bars for each ticker, skipping tickers whose data is
// missing or too short. It fails only when no ticker has data.
func history(ctx context.Context, market ports.MarketData, tickers []string, asOf time.Time, limit, need int) (map[string][]domain.Bar, error) {
	if market == nil {
		return nil, fmt.Errorf("no market data: %w", ports.ErrConfigurationError)
	}
	out := make(map[string][]domain.Bar, len(tickers))
	var lastErr error
	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := market.GetBars(ctx, t, asOf, limit)
		if err != nil {
			lastErr = err
			continue
		}
		if len(bars) < need {
			continue
		}
		out[t] = bars
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("fetching bars: %w", lastErr)
	}
	return out, nil
}

// scored is one candidate ranked by a rule strategy.
type scored struct {
	ticker string
	score  float64
	reason string
}

// topSignals turns the best n candidates into buy signals with confidence
// scaled by rank.
func topSignals(cands []scored, n int) []domain.Signal {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].ticker < cands[j].ticker
	})
	if n > 0 && len(cands) > n {
		cands = cands[:n]
	}
	out := make([]domain.Signal, 0, len(cands))
	for i, c := range cands {
		out = append(out, domain.Signal{
			Ticker:     c.ticker,
			Action:     string(domain.Buy),
			Confidence: 1 - float64(i)/float64(len(cands)+1),
			Reason:     c.reason,
		})
	}
	return out
}
