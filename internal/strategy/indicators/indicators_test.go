package indicators

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Ticker: "ACME", Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return out
}

func TestMovingAverage_Calculate(t *testing.T) {
	bars := barsFromCloses(100, 102, 101, 103, 104)

	tests := []struct {
		name        string
		config      MovingAverageConfig
		expected    float64
		expectError bool
	}{
		{"SMA", MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 3}, Type: SimpleMovingAverage}, 102.666667, false},
		{"EMA", MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 3}, Type: ExponentialMovingAverage}, 103.0, false},
		{"insufficient data", MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 6}, Type: SimpleMovingAverage}, 0, true},
		{"invalid type", MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 3}, Type: "WMA"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := NewMovingAverage(tt.config)
			value, err := ma.Calculate(context.Background(), bars)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, value, 1e-4)
		})
	}
	assert.Equal(t, "SMA", NewMovingAverage(MovingAverageConfig{Type: SimpleMovingAverage}).Name())
}

func TestRSI_Calculate(t *testing.T) {
	tests := []struct {
		name        string
		period      int
		closes      []float64
		expected    float64
		expectError bool
	}{
		{"mixed", 3, []float64{100, 102, 101, 103, 102, 104}, 77.272727, false},
		{"insufficient data", 7, []float64{100, 102, 101, 103, 102, 104}, 0, true},
		{"all gains", 3, []float64{100, 102, 104, 106}, 100, false},
		{"all losses", 3, []float64{106, 104, 102, 100}, 0, false},
		{"flat", 3, []float64{100, 100, 100, 100}, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi := NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: tt.period}, Overbought: 70, Oversold: 30})
			value, err := rsi.Calculate(context.Background(), barsFromCloses(tt.closes...))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, value, 1e-4)
		})
	}

	rsi := NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: 14}, Overbought: 70, Oversold: 30})
	assert.True(t, rsi.IsOverbought(70))
	assert.True(t, rsi.IsOversold(30))
	assert.False(t, rsi.IsOversold(50))
	assert.Equal(t, 15, rsi.RequiredDataPoints())
}

func TestATR_Calculate(t *testing.T) {
	bars := []domain.Bar{
		{Close: 10},
		{High: 12, Low: 9, Close: 11},    // TR 3
		{High: 11.5, Low: 10, Close: 10}, // TR 1.5
		{High: 14, Low: 12, Close: 13},   // TR 4 (gap from 10)
	}
	atr := NewATR(ATRConfig{IndicatorConfig: IndicatorConfig{Period: 2}})
	value, err := atr.Calculate(context.Background(), bars)
	require.NoError(t, err)
	// seed (3 + 1.5) / 2 = 2.25, then (2.25 + 4) / 2
	assert.InDelta(t, 3.125, value, 1e-9)
	assert.Equal(t, 3, atr.RequiredDataPoints())

	_, err = atr.Calculate(context.Background(), bars[:2])
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	closes := []float64{100, 110, 99, 121}

	r, err := Return(closes, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0.21, r, 1e-9)
	_, err = Return(closes, 4)
	assert.Error(t, err)

	rets := DailyReturns(closes)
	require.Len(t, rets, 3)
	assert.InDelta(t, 0.1, rets[0], 1e-9)
	assert.InDelta(t, -0.1, rets[1], 1e-9)

	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7), std, 1e-9)

	z, err := ZScore([]float64{10, 10, 10, 10, 6}, 5)
	require.NoError(t, err)
	assert.Less(t, z, -1.7)

	flat, err := ZScore([]float64{5, 5, 5}, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, flat)

	assert.Equal(t, 0.0, AnnualizedSharpe([]float64{0.01, 0.01}, 0))
	assert.Greater(t, AnnualizedSharpe([]float64{0.01, 0.02, 0.015, 0.005}, 0.02), 0.0)
}
