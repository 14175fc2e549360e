package indicators

import (
	"context"
	"fmt"
	"math"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATR is the Average True Range with Wilder smoothing. It is the trailing
// volatility estimate, in price units, used for stop placement.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string {
	return "ATR"
}

// RequiredDataPoints is one more than the period; the first true range needs a previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the ATR at the last bar
func (a *ATR) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	period := a.Config.Period
	if period <= 0 {
		return 0, fmt.Errorf("invalid ATR period %d", period)
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("not enough data points for ATR calculation: need %d, got %d", period+1, len(bars))
	}

	tr := TrueRanges(bars)
	atr := 0.0
	for _, v := range tr[:period] {
		atr += v
	}
	atr /= float64(period)
	for _, v := range tr[period:] {
		atr = (atr*float64(period-1) + v) / float64(period)
	}
	return atr, nil
}

// TrueRanges returns the true range of every bar after the first.
func TrueRanges(bars []domain.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		hl := bars[i].High - bars[i].Low
		out = append(out, math.Max(hl, math.Max(math.Abs(bars[i].High-prev), math.Abs(bars[i].Low-prev))))
	}
	return out
}
