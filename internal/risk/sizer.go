package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// SizerConfig holds configuration for risk sizing
type SizerConfig struct {
	StopMin             float64       // minimum stop distance as a fraction of entry
	StopMax             float64       // maximum stop distance as a fraction of entry
	ProfitMultiplier    float64       // take-profit distance / stop distance
	MaxPositionFraction float64       // maximum notional of one position as a fraction of equity
	MaxExposure         float64       // maximum gross exposure as a fraction of equity
	MaxHoldingPeriod    time.Duration // added to as-of time to get max_hold_until
}

// Validate checks the sizing bounds are coherent.
func (c SizerConfig) Validate() error {
	if c.StopMin <= 0 || c.StopMax >= 1 || c.StopMin > c.StopMax {
		return fmt.Errorf("stop bounds must satisfy 0 < min <= max < 1, got [%.4f, %.4f]", c.StopMin, c.StopMax)
	}
	if c.ProfitMultiplier <= 0 {
		return fmt.Errorf("profit multiplier must be positive, got %.4f", c.ProfitMultiplier)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("max position fraction must be in (0, 1], got %.4f", c.MaxPositionFraction)
	}
	if c.MaxExposure <= 0 {
		return fmt.Errorf("max exposure must be positive, got %.4f", c.MaxExposure)
	}
	if c.MaxHoldingPeriod <= 0 {
		return fmt.Errorf("max holding period must be positive, got %s", c.MaxHoldingPeriod)
	}
	return nil
}

// Sizer translates recommendations into sized orders. It holds no mutable
// state and is safe for concurrent use.
type Sizer struct {
	config SizerConfig
}

// NewSizer creates a new sizer instance
func NewSizer(config SizerConfig) (*Sizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Sizer{config: config}, nil
}

// Config returns the sizing configuration.
func (s *Sizer) Config() SizerConfig {
	return s.config
}

// StopFraction returns the stop distance as a fraction of entry for a given
// risk fraction and volatility. ok is false when one unit of volatility is
// already wider than the maximum stop.
func (s *Sizer) StopFraction(riskFraction, volatility, entry float64) (frac float64, ok bool) {
	volFrac := 0.0
	if entry > 0 && volatility > 0 {
		volFrac = volatility / entry
	}
	if volFrac > s.config.StopMax {
		return 0, false
	}
	lower := math.Max(s.config.StopMin, volFrac)
	frac = riskFraction / s.config.MaxPositionFraction
	return math.Min(math.Max(frac, lower), s.config.StopMax), true
}

// Size converts one recommendation into a sized order against a ledger
// snapshot. Any rejection wraps ports.ErrInsufficientSizing.
func (s *Sizer) Size(rec domain.Recommendation, snap domain.LedgerSnapshot, volatility, entry float64, asOf time.Time) (domain.SizedOrder, error) {
	reject := func(format string, args ...interface{}) (domain.SizedOrder, error) {
		return domain.SizedOrder{}, fmt.Errorf("%s %s: %s: %w", rec.StrategyID, rec.Ticker, fmt.Sprintf(format, args...), ports.ErrInsufficientSizing)
	}

	if snap.StrategyID != "" && rec.StrategyID != snap.StrategyID {
		return domain.SizedOrder{}, fmt.Errorf("sizing %s recommendation against %s ledger: %w", rec.StrategyID, snap.StrategyID, ports.ErrLedgerIsolationViolation)
	}
	if snap.Equity <= 0 {
		return reject("equity %.2f is not positive", snap.Equity)
	}
	if entry <= 0 || math.IsNaN(entry) {
		return reject("no entry price")
	}
	if rec.RiskFraction <= 0 {
		return reject("risk fraction %.4f is not positive", rec.RiskFraction)
	}

	stopFrac, ok := s.StopFraction(rec.RiskFraction, volatility, entry)
	if !ok {
		return reject("volatility %.4f exceeds max stop of %.0f%%", volatility, s.config.StopMax*100)
	}
	stopDist := entry * stopFrac
	profitDist := stopDist * s.config.ProfitMultiplier

	sign := rec.Side.Sign()
	stopPrice := entry - sign*stopDist
	profitPrice := entry + sign*profitDist
	if stopPrice <= 0 || profitPrice <= 0 {
		return reject("protective price is not positive (stop %.4f, profit %.4f)", stopPrice, profitPrice)
	}

	qty := math.Floor(snap.Equity * rec.RiskFraction / stopDist)
	qty = math.Min(qty, math.Floor(snap.AvailableCash/entry))
	qty = math.Min(qty, math.Floor(snap.Equity*s.config.MaxPositionFraction/entry))
	qty = math.Min(qty, math.Floor((snap.Equity*s.config.MaxExposure-snap.Exposure)/entry))
	if qty < 1 || math.IsNaN(qty) {
		return reject("quantity computes to %.0f (available cash %.2f, exposure %.2f)", math.Max(qty, 0), snap.AvailableCash, snap.Exposure)
	}

	return domain.SizedOrder{
		StrategyID:      rec.StrategyID,
		Ticker:          rec.Ticker,
		Side:            rec.Side,
		Quantity:        int64(qty),
		EntryPriceHint:  entry,
		StopLossPrice:   stopPrice,
		TakeProfitPrice: profitPrice,
		MaxHoldUntil:    asOf.Add(s.config.MaxHoldingPeriod),
		Volatility:      volatility,
		RiskFraction:    rec.RiskFraction,
	}, nil
}

// Budget tracks how much of a ledger snapshot one sizing pass has already
// committed, so later recommendations in the pass see the reduced headroom.
type Budget struct {
	sizer *Sizer
	snap  domain.LedgerSnapshot
	Count int
}

// NewBudget starts a sizing pass over a snapshot.
func (s *Sizer) NewBudget(snap domain.LedgerSnapshot) *Budget {
	return &Budget{sizer: s, snap: snap}
}

// Size sizes a recommendation and, on success, reserves its notional.
func (b *Budget) Size(rec domain.Recommendation, volatility, entry float64, asOf time.Time) (domain.SizedOrder, error) {
	so, err := b.sizer.Size(rec, b.snap, volatility, entry, asOf)
	if err != nil {
		return so, err
	}
	b.Reserve(so.Notional())
	return so, nil
}

// Reserve commits notional against the remaining headroom.
func (b *Budget) Reserve(notional float64) {
	b.snap.AvailableCash -= notional
	b.snap.Exposure += notional
	b.Count++
}

// Release returns notional to the headroom, e.g. after a closing order frees capital.
func (b *Budget) Release(notional float64) {
	b.snap.AvailableCash += notional
	b.snap.Exposure = math.Max(0, b.snap.Exposure-notional)
}

// Snapshot is the snapshot with reservations applied.
func (b *Budget) Snapshot() domain.LedgerSnapshot {
	return b.snap
}
