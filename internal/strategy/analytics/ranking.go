package analytics

import (
	"sort"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// Ranked is one row of a comparison table.
type Ranked struct {
	Rank    int
	Value   float64
	Metrics *PerformanceMetrics
}

// Rank orders metrics by the named metric, best first. Max drawdown ranks
// ascending, everything else descending. Ties fall back to total return and
// then to strategy ID.
func Rank(all []*PerformanceMetrics, metric string) ([]Ranked, error) {
	metric = NormalizeMetric(metric)
	out := make([]Ranked, 0, len(all))
	for _, m := range all {
		v, err := m.Value(metric)
		if err != nil {
			return nil, err
		}
		out = append(out, Ranked{Value: v, Metrics: m})
	}

	lowerIsBetter := metric == MetricMaxDrawdown
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Value != b.Value {
			if lowerIsBetter {
				return a.Value < b.Value
			}
			return a.Value > b.Value
		}
		if a.Metrics.TotalReturn != b.Metrics.TotalReturn {
			return a.Metrics.TotalReturn > b.Metrics.TotalReturn
		}
		return a.Metrics.StrategyID < b.Metrics.StrategyID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// Compare computes metrics for every ledger that completed at least one
// successful cycle and ranks them.
func Compare(states []domain.LedgerState, riskFreeRate float64, metric string) ([]Ranked, error) {
	all := make([]*PerformanceMetrics, 0, len(states))
	for _, st := range states {
		if st.SuccessfulCycles == 0 {
			continue
		}
		all = append(all, AnalyzePerformance(FromLedger(st, riskFreeRate)))
	}
	return Rank(all, metric)
}
