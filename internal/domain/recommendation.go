package domain

import "time"

// Recommendation is one proposed trade from one strategy at one evaluation time.
type Recommendation struct {
	StrategyID   StrategyID `json:"strategy_id"`
	Ticker       string     `json:"ticker"`
	Side         Side       `json:"side"`
	Confidence   float64    `json:"confidence"` // 0..1, 0 when the strategy gave none
	Rationale    string     `json:"rationale,omitempty"`
	RiskFraction float64    `json:"risk_fraction"` // fraction of equity the strategy is willing to risk
	AsOf         time.Time  `json:"as_of"`
}

// Signal is a structured recommendation emitted by a rule-based strategy.
type Signal struct {
	Ticker       string
	Action       string
	Confidence   float64
	RiskFraction float64
	Reason       string
}

// RawOutput is what a strategy hands to the normalizer: free text from an LLM
// or structured signals from a rule-based strategy.
type RawOutput struct {
	StrategyID StrategyID
	Kind       StrategyKind
	Text       string
	Signals    []Signal
	Model      string
	ProducedAt time.Time
}
