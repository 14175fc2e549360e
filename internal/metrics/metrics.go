// Package metrics exposes Prometheus collectors for the rebalancing engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// Registry holds all engine metrics. A nil *Registry is valid and records nothing.
type Registry struct {
	reg prometheus.Gatherer

	CyclesTotal      *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	StrategyResults  *prometheus.CounterVec
	StrategyDuration *prometheus.HistogramVec
	OrdersSubmitted  *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	OrdersClosed     *prometheus.CounterVec
	Conflicts        *prometheus.CounterVec
	Equity           *prometheus.GaugeVec
	Cash             *prometheus.GaugeVec
	OpenPositions    *prometheus.GaugeVec
	PriceUpdates     prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_cycles_total",
				Help: "Rebalance cycles by outcome",
			},
			[]string{"result"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rebalance_cycle_duration_seconds",
				Help:    "Wall time of one rebalance cycle",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),

		StrategyResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_strategy_results_total",
				Help: "Per-strategy cycle outcomes by status and error kind",
			},
			[]string{"strategy", "status", "error_kind"},
		),

		StrategyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebalance_strategy_duration_seconds",
				Help:    "Wall time of one strategy's pass through a cycle",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"strategy"},
		),

		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_orders_submitted_total",
				Help: "Orders accepted by the broker",
			},
			[]string{"strategy", "side"},
		),

		OrdersRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_orders_rejected_total",
				Help: "Recommendations that did not become submitted orders",
			},
			[]string{"strategy", "kind"},
		),

		OrdersClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_orders_closed_total",
				Help: "Closed positions by exit state",
			},
			[]string{"strategy", "state"},
		),

		Conflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalance_reconciliation_conflicts_total",
				Help: "Market updates discarded as duplicate or out of order",
			},
			[]string{"strategy"},
		),

		Equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_equity_usd",
				Help: "Ledger equity marked to market",
			},
			[]string{"strategy"},
		),

		Cash: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_cash_usd",
				Help: "Ledger cash balance",
			},
			[]string{"strategy"},
		),

		OpenPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ledger_open_positions",
				Help: "Open positions per ledger",
			},
			[]string{"strategy"},
		),

		PriceUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "price_updates_total",
				Help: "Market updates routed to reconciliation",
			},
		),
	}

	reg.MustRegister(
		r.CyclesTotal, r.CycleDuration, r.StrategyResults, r.StrategyDuration,
		r.OrdersSubmitted, r.OrdersRejected, r.OrdersClosed, r.Conflicts,
		r.Equity, r.Cash, r.OpenPositions, r.PriceUpdates,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mostly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveCycle records a finished cycle report.
func (r *Registry) ObserveCycle(rep *domain.CycleReport) {
	if r == nil || rep == nil {
		return
	}
	result := "succeeded"
	switch {
	case rep.Aborted:
		result = "aborted"
	case !rep.Succeeded:
		result = "failed"
	}
	r.CyclesTotal.WithLabelValues(result).Inc()
	r.CycleDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())

	for _, res := range rep.Results {
		id := string(res.StrategyID)
		r.StrategyResults.WithLabelValues(id, string(res.Status), res.ErrorKind).Inc()
		r.StrategyDuration.WithLabelValues(id).Observe(res.Duration.Seconds())
		for _, rej := range res.Rejections {
			r.OrdersRejected.WithLabelValues(id, rej.Kind).Inc()
		}
	}
}

// OrderSubmitted counts one broker-accepted order.
func (r *Registry) OrderSubmitted(id domain.StrategyID, side domain.Side) {
	if r == nil {
		return
	}
	r.OrdersSubmitted.WithLabelValues(string(id), string(side)).Inc()
}

// OrderClosed counts one closed position.
func (r *Registry) OrderClosed(id domain.StrategyID, state domain.OrderState) {
	if r == nil {
		return
	}
	r.OrdersClosed.WithLabelValues(string(id), string(state)).Inc()
}

// ConflictsSeen adds discarded updates for a strategy.
func (r *Registry) ConflictsSeen(id domain.StrategyID, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Conflicts.WithLabelValues(string(id)).Add(float64(n))
}

// PriceUpdate counts one routed market update.
func (r *Registry) PriceUpdate() {
	if r == nil {
		return
	}
	r.PriceUpdates.Inc()
}

// SetLedger publishes a ledger's balances.
func (r *Registry) SetLedger(id domain.StrategyID, equity, cash float64, positions int) {
	if r == nil {
		return
	}
	r.Equity.WithLabelValues(string(id)).Set(equity)
	r.Cash.WithLabelValues(string(id)).Set(cash)
	r.OpenPositions.WithLabelValues(string(id)).Set(float64(positions))
}
