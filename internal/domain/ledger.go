package domain

import "time"

// EquitySnapshot is one entry of a ledger's daily history.
type EquitySnapshot struct {
	Date   time.Time `json:"date"`
	Cash   float64   `json:"cash"`
	Equity float64   `json:"equity"`
}

// LedgerSnapshot is a read-only copy of a ledger's balances, used for sizing.
type LedgerSnapshot struct {
	StrategyID    StrategyID
	Cash          float64
	Equity        float64
	AvailableCash float64 // cash minus notional committed to Pending/Submitted orders
	Exposure      float64 // gross position exposure plus pending notional
	Positions     map[string]Position
	Working       map[string]Side // tickers with a Pending or Submitted order
	AsOf          time.Time
}

// Holds reports the side held (or pending) for a ticker, if any.
func (s LedgerSnapshot) Holds(ticker string) (Side, bool) {
	if p, ok := s.Positions[ticker]; ok {
		return p.Side, true
	}
	if side, ok := s.Working[ticker]; ok {
		return side, true
	}
	return "", false
}

// LedgerState is the persisted form of a PortfolioLedger.
type LedgerState struct {
	StrategyID       StrategyID          `json:"strategy_id"`
	StartingCapital  float64             `json:"starting_capital"`
	Cash             float64             `json:"cash"`
	Paused           bool                `json:"paused"`
	SuccessfulCycles int                 `json:"successful_cycles"`
	Positions        map[string]Position `json:"positions"`
	Orders           []Order             `json:"orders"`
	Events           []OrderEvent        `json:"events"`
	History          []EquitySnapshot    `json:"history"`
	UpdatedAt        time.Time           `json:"updated_at"`
}
