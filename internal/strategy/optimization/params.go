package optimization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy"
)

// Tunable parameter names.
const (
	ParamThreshold      = "threshold"
	ParamSMAPeriod      = "sma_period"
	ParamVolumeMultiple = "volume_multiple"
	ParamPeriod         = "period"
	ParamZThreshold     = "z_threshold"
	ParamRSIOversold    = "rsi_oversold"
	ParamLookback       = "lookback"
	ParamNoise          = "noise"
	ParamMinSharpe      = "min_sharpe"
	ParamMaxPositions   = "max_positions"
)

// MomentumFactory applies parameters on top of base.
func MomentumFactory(base strategy.MomentumConfig) Factory {
	return func(params map[string]float64, logger ports.Logger) (ports.Strategy, error) {
		cfg := base
		cfg.Lookbacks = append([]int(nil), base.Lookbacks...)
		for name, v := range params {
			switch name {
			case ParamThreshold:
				cfg.Threshold = v
			case ParamSMAPeriod:
				cfg.SMAPeriod = int(v)
			case ParamVolumeMultiple:
				cfg.VolumeMultiple = v
			case ParamMaxPositions:
				cfg.MaxPositions = int(v)
			default:
				return nil, unknownParam(domain.StrategyMomentum, name)
			}
		}
		return strategy.NewMomentum(cfg, logger)
	}
}

// MeanReversionFactory applies parameters on top of base.
func MeanReversionFactory(base strategy.MeanReversionConfig) Factory {
	return func(params map[string]float64, logger ports.Logger) (ports.Strategy, error) {
		cfg := base
		for name, v := range params {
			switch name {
			case ParamPeriod:
				cfg.Period = int(v)
			case ParamZThreshold:
				cfg.ZThreshold = v
			case ParamRSIOversold:
				cfg.RSIOversold = v
			case ParamMaxPositions:
				cfg.MaxPositions = int(v)
			default:
				return nil, unknownParam(domain.StrategyMeanReversion, name)
			}
		}
		return strategy.NewMeanReversion(cfg, logger)
	}
}

// RandomSharpeFactory applies parameters on top of base. Set a non-zero Seed
// on base to compare combinations on the same draws.
func RandomSharpeFactory(base strategy.RandomSharpeConfig) Factory {
	return func(params map[string]float64, logger ports.Logger) (ports.Strategy, error) {
		cfg := base
		for name, v := range params {
			switch name {
			case ParamLookback:
				cfg.Lookback = int(v)
			case ParamNoise:
				cfg.Noise = v
			case ParamMinSharpe:
				cfg.MinSharpe = v
			case ParamMaxPositions:
				cfg.MaxPositions = int(v)
			default:
				return nil, unknownParam(domain.StrategyRandomSharpe, name)
			}
		}
		return strategy.NewRandomSharpe(cfg, logger)
	}
}

// DefaultRanges returns a modest search grid for each rule-based strategy.
func DefaultRanges(id domain.StrategyID) ([]ParameterRange, error) {
	switch id {
	case domain.StrategyMomentum:
		return []ParameterRange{
			{Name: ParamThreshold, Min: 0.02, Max: 0.08, Step: 0.02},
			{Name: ParamSMAPeriod, Min: 10, Max: 50, Step: 20, IsInt: true},
			{Name: ParamVolumeMultiple, Min: 1.0, Max: 2.0, Step: 0.5},
		}, nil
	case domain.StrategyMeanReversion:
		return []ParameterRange{
			{Name: ParamPeriod, Min: 10, Max: 30, Step: 10, IsInt: true},
			{Name: ParamZThreshold, Min: 1.5, Max: 2.5, Step: 0.5},
			{Name: ParamRSIOversold, Min: 25, Max: 35, Step: 5},
		}, nil
	case domain.StrategyRandomSharpe:
		return []ParameterRange{
			{Name: ParamLookback, Min: 63, Max: 252, Step: 63, IsInt: true},
			{Name: ParamNoise, Min: 0, Max: 0.2, Step: 0.1},
		}, nil
	}
	return nil, fmt.Errorf("strategy %s has no tunable parameters: %w", id, ports.ErrUnknownStrategy)
}

// FormatParameters renders a combination as sorted name=value pairs.
func FormatParameters(params map[string]float64) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, params[name])
	}
	return strings.Join(parts, " ")
}

func unknownParam(id domain.StrategyID, name string) error {
	return fmt.Errorf("unknown parameter %q for %s", name, id)
}
