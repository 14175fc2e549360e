package indicators

import (
	"fmt"
	"math"
)

// Return is the simple return over the last n periods.
func Return(closes []float64, n int) (float64, error) {
	if n <= 0 || len(closes) <= n {
		return 0, fmt.Errorf("not enough data (%d) for %d-period return", len(closes), n)
	}
	base := closes[len(closes)-1-n]
	if base <= 0 {
		return 0, fmt.Errorf("non-positive base price %.4f", base)
	}
	return closes[len(closes)-1]/base - 1, nil
}

// DailyReturns converts a close series into period-over-period returns.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// MeanStd returns the mean and sample standard deviation.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(std / float64(len(values)-1))
}

// ZScore is how many standard deviations the last value sits from the mean
// of the last period values.
func ZScore(values []float64, period int) (float64, error) {
	if period < 2 || len(values) < period {
		return 0, fmt.Errorf("not enough data (%d) for z-score over %d", len(values), period)
	}
	mean, std := MeanStd(values[len(values)-period:])
	if std == 0 {
		return 0, nil
	}
	return (values[len(values)-1] - mean) / std, nil
}

// AnnualizedSharpe of a daily return series against an annual risk-free rate.
func AnnualizedSharpe(returns []float64, riskFree float64) float64 {
	mean, std := MeanStd(returns)
	if std == 0 {
		return 0
	}
	return (mean - riskFree/252) / std * math.Sqrt(252)
}
