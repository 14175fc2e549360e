package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

func TestObserveCycle(t *testing.T) {
	r := New()
	start := time.Date(2025, 6, 6, 15, 30, 0, 0, time.UTC)
	r.ObserveCycle(&domain.CycleReport{
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Succeeded:  true,
		Results: []domain.StrategyResult{
			{StrategyID: domain.StrategyMomentum, Status: domain.StrategyOK, Rejections: []domain.Rejection{{Ticker: "X", Kind: "InsufficientSizing"}}},
			{StrategyID: domain.StrategyClaude, Status: domain.StrategyFailed, ErrorKind: "MalformedRecommendation"},
		},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.CyclesTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StrategyResults.WithLabelValues(string(domain.StrategyClaude), "failed", "MalformedRecommendation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersRejected.WithLabelValues(string(domain.StrategyMomentum), "InsufficientSizing")))

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	var hist *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "rebalance_cycle_duration_seconds" {
			hist = f
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(1), hist.GetMetric()[0].GetHistogram().GetSampleCount())
	assert.InDelta(t, 2.0, hist.GetMetric()[0].GetHistogram().GetSampleSum(), 1e-9)
}

func TestLedgerGaugesAndHandler(t *testing.T) {
	r := New()
	r.SetLedger(domain.StrategyGemini, 101000, 50000, 3)
	r.OrderSubmitted(domain.StrategyGemini, domain.Buy)
	r.OrderClosed(domain.StrategyGemini, domain.StateClosedStop)
	r.ConflictsSeen(domain.StrategyGemini, 2)
	r.PriceUpdate()

	assert.Equal(t, 101000.0, testutil.ToFloat64(r.Equity.WithLabelValues(string(domain.StrategyGemini))))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Conflicts.WithLabelValues(string(domain.StrategyGemini))))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `ledger_open_positions{strategy="Gemini-Pro"} 3`)
	assert.Contains(t, string(body), "price_updates_total 1")
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveCycle(&domain.CycleReport{})
		r.SetLedger(domain.StrategyGemini, 1, 1, 1)
		r.OrderClosed(domain.StrategyGemini, domain.StateClosedStop)
		r.PriceUpdate()
	})
}
