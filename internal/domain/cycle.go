package domain

import "time"

// CyclePhase is the state of the rebalance cycle state machine.
type CyclePhase string

const (
	PhaseIdle        CyclePhase = "IDLE"
	PhaseCollecting  CyclePhase = "COLLECTING"
	PhaseSizing      CyclePhase = "SIZING"
	PhaseSubmitting  CyclePhase = "SUBMITTING"
	PhaseReconciling CyclePhase = "RECONCILING_EXISTING"
)

// StrategyStatus summarizes how one strategy fared in a cycle.
type StrategyStatus string

const (
	StrategyOK      StrategyStatus = "ok"
	StrategyFailed  StrategyStatus = "failed"
	StrategyPaused  StrategyStatus = "paused"
	StrategySkipped StrategyStatus = "skipped"
)

// Rejection records why one recommendation did not become a submitted order.
type Rejection struct {
	Ticker string `json:"ticker"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// StrategyResult is one line of the cycle report.
type StrategyResult struct {
	StrategyID      StrategyID     `json:"strategy_id"`
	Status          StrategyStatus `json:"status"`
	ErrorKind       string         `json:"error_kind,omitempty"`
	Error           string         `json:"error,omitempty"`
	Recommendations int            `json:"recommendations"`
	NoOps           int            `json:"no_ops"`
	Sized           int            `json:"sized"`
	Submitted       int            `json:"submitted"`
	Filled          int            `json:"filled"`
	Closed          int            `json:"closed"`
	Conflicts       int            `json:"conflicts"`
	Rejections      []Rejection    `json:"rejections,omitempty"`
	Equity          float64        `json:"equity"`
	Duration        time.Duration  `json:"duration"`
}

// CycleReport enumerates per-strategy success and failure for one cycle.
type CycleReport struct {
	CycleID    string           `json:"cycle_id"`
	AsOf       time.Time        `json:"as_of"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Succeeded  bool             `json:"succeeded"`
	Aborted    bool             `json:"aborted"`
	Error      string           `json:"error,omitempty"`
	Results    []StrategyResult `json:"results"`
}

// Result returns the entry for a strategy, if present.
func (r *CycleReport) Result(id StrategyID) (StrategyResult, bool) {
	for _, res := range r.Results {
		if res.StrategyID == id {
			return res, true
		}
	}
	return StrategyResult{}, false
}
