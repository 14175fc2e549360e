package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Phase  domain.CyclePhase `json:"phase"`
	Checks map[string]string `json:"checks"`
}

// LedgerSummary is one row of /ledgers.
type LedgerSummary struct {
	StrategyID       domain.StrategyID `json:"strategy_id"`
	Equity           float64           `json:"equity"`
	Cash             float64           `json:"cash"`
	TotalReturn      float64           `json:"total_return"`
	Positions        int               `json:"positions"`
	OpenOrders       int               `json:"open_orders"`
	Paused           bool              `json:"paused"`
	SuccessfulCycles int               `json:"successful_cycles"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// LedgerDetail is the body of /ledgers/{strategy}.
type LedgerDetail struct {
	Ledger  domain.LedgerState            `json:"ledger"`
	Metrics *analytics.PerformanceMetrics `json:"metrics"`
}

// RankingRow is one row of /rankings.
type RankingRow struct {
	Rank        int               `json:"rank"`
	StrategyID  domain.StrategyID `json:"strategy_id"`
	Value       float64           `json:"value"`
	TotalReturn float64           `json:"total_return"`
	SharpeRatio float64           `json:"sharpe_ratio"`
	MaxDrawdown float64           `json:"max_drawdown"`
	WinRate     float64           `json:"win_rate"`
}

func summarize(st domain.LedgerState) LedgerSummary {
	equity := st.Cash
	for _, p := range st.Positions {
		equity += p.MarketValue()
	}
	open := 0
	for _, o := range st.Orders {
		if o.IsOpen() {
			open++
		}
	}
	var ret float64
	if st.StartingCapital > 0 {
		ret = equity/st.StartingCapital - 1
	}
	return LedgerSummary{
		StrategyID:       st.StrategyID,
		Equity:           equity,
		Cash:             st.Cash,
		TotalReturn:      ret,
		Positions:        len(st.Positions),
		OpenOrders:       open,
		Paused:           st.Paused,
		SuccessfulCycles: st.SuccessfulCycles,
		UpdatedAt:        st.UpdatedAt,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Phase: s.cfg.Status.Phase(), Checks: make(map[string]string)}
	status := http.StatusOK
	for name, p := range s.cfg.Checks {
		if err := p.Ping(r.Context()); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	s.writeJSON(w, r, status, resp)
}

func (s *Server) ledgers(w http.ResponseWriter, r *http.Request) {
	states := s.cfg.Status.Ledgers()
	out := make([]LedgerSummary, 0, len(states))
	for _, st := range states {
		out = append(out, summarize(st))
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	want := mux.Vars(r)["strategy"]
	for _, st := range s.cfg.Status.Ledgers() {
		if strings.EqualFold(string(st.StrategyID), want) {
			s.writeJSON(w, r, http.StatusOK, LedgerDetail{
				Ledger:  st,
				Metrics: analytics.AnalyzePerformance(analytics.FromLedger(st, s.cfg.RiskFreeRate)),
			})
			return
		}
	}
	s.writeError(w, r, http.StatusNotFound, "unknown_strategy", "no ledger for strategy "+want)
}

func (s *Server) rankings(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.cfg.Status.Rankings(r.URL.Query().Get("metric"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_metric", err.Error())
		return
	}
	out := make([]RankingRow, 0, len(ranked))
	for _, rk := range ranked {
		out = append(out, RankingRow{
			Rank:        rk.Rank,
			StrategyID:  rk.Metrics.StrategyID,
			Value:       rk.Value,
			TotalReturn: rk.Metrics.TotalReturn,
			SharpeRatio: rk.Metrics.SharpeRatio,
			MaxDrawdown: rk.Metrics.MaxDrawdown,
			WinRate:     rk.Metrics.WinRate,
		})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) lastCycle(w http.ResponseWriter, r *http.Request) {
	rep := s.cfg.Status.LastReport()
	if rep == nil {
		s.writeError(w, r, http.StatusNotFound, "no_cycle", "no rebalance cycle has run yet")
		return
	}
	s.writeJSON(w, r, http.StatusOK, rep)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// writeJSON writes JSON response with proper error handling
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn(r.Context(), "Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(ctxKey{}).(string)
	if requestID == "" {
		requestID = "unknown"
	}
	s.writeJSON(w, r, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}
