package indicators

import (
	"context"
	"fmt"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints is one more than the period.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI at the last bar using Wilder's smoothing
func (r *RSI) Calculate(ctx context.Context, bars []domain.Bar) (float64, error) {
	return RSIValue(Closes(bars), r.Config.Period)
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSI) IsOverbought(value float64) bool {
	return value >= r.config.Overbought
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSI) IsOversold(value float64) bool {
	return value <= r.config.Oversold
}

// RSIValue computes Wilder's RSI over a close series.
func RSIValue(closes []float64, period int) (float64, error) {
	if period <= 0 || len(closes) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(closes), period)
	}

	p := float64(period)
	var gain, loss float64
	for i := 1; i < len(closes); i++ {
		up, down := 0.0, 0.0
		if d := closes[i] - closes[i-1]; d > 0 {
			up = d
		} else {
			down = -d
		}
		if i <= period {
			gain += up / p
			loss += down / p
			continue
		}
		gain = (gain*(p-1) + up) / p
		loss = (loss*(p-1) + down) / p
	}

	switch {
	case loss == 0 && gain == 0:
		return 50, nil
	case loss == 0:
		return 100, nil
	}
	return 100 - 100/(1+gain/loss), nil
}
