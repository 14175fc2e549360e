package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/indicators"
)

// MomentumConfig holds parameters for the momentum strategy
type MomentumConfig struct {
	Lookbacks      []int   // return horizons in trading days, e.g. 5, 10, 20, 60
	Threshold      float64 // minimum return on every horizon, e.g. 0.05
	SMAPeriod      int     // trend filter, price must be above this SMA
	VolumePeriod   int     // averaging window for volume confirmation
	VolumeMultiple float64 // latest volume must be at least this multiple of the average
	MaxCandidates  int
	MaxPositions   int
}

// DefaultMomentumConfig returns the standard momentum parameters.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		Lookbacks:      []int{5, 10, 20, 60},
		Threshold:      0.05,
		SMAPeriod:      20,
		VolumePeriod:   20,
		VolumeMultiple: 1.5,
		MaxCandidates:  200,
		MaxPositions:   15,
	}
}

// Momentum buys tickers with strong multi-horizon returns, an intact trend
// and confirming volume.
type Momentum struct {
	cfg    MomentumConfig
	trend  *indicators.MovingAverage
	logger ports.Logger
}

// NewMomentum creates the Pure-Momentum strategy.
func NewMomentum(cfg MomentumConfig, logger ports.Logger) (*Momentum, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if len(cfg.Lookbacks) == 0 || cfg.SMAPeriod <= 0 || cfg.VolumePeriod <= 0 {
		return nil, fmt.Errorf("momentum periods must be positive")
	}
	for _, lb := range cfg.Lookbacks {
		if lb <= 0 {
			return nil, fmt.Errorf("momentum lookback %d must be positive", lb)
		}
	}
	trend := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.SMAPeriod},
		Type:            indicators.SimpleMovingAverage,
	})
	return &Momentum{cfg: cfg, trend: trend, logger: logger}, nil
}

func (m *Momentum) ID() domain.StrategyID     { return domain.StrategyMomentum }
func (m *Momentum) Kind() domain.StrategyKind { return domain.KindRule }

// RequiredDataPoints is the longest window any rule looks at, plus one.
func (m *Momentum) RequiredDataPoints() int {
	n := m.cfg.SMAPeriod
	if m.cfg.VolumePeriod+1 > n {
		n = m.cfg.VolumePeriod + 1
	}
	for _, lb := range m.cfg.Lookbacks {
		if lb+1 > n {
			n = lb + 1
		}
	}
	return n
}

// Recommend scores the candidates and emits buy signals for the top ones.
func (m *Momentum) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	need := m.RequiredDataPoints()
	tickers := Candidates(m.ID(), in, m.cfg.MaxCandidates)
	data, err := history(ctx, in.Market, tickers, in.AsOf, need, need)
	if err != nil {
		return domain.RawOutput{}, fmt.Errorf("momentum: %w", err)
	}

	var cands []scored
	for _, t := range tickers {
		bars, ok := data[t]
		if !ok {
			continue
		}
		if c, ok := m.score(ctx, t, bars); ok {
			cands = append(cands, c)
		}
	}
	m.logger.Debug(ctx, "Momentum scan complete", map[string]interface{}{
		"strategy":   m.ID(),
		"scanned":    len(data),
		"qualifying": len(cands),
	})
	return domain.RawOutput{
		StrategyID: m.ID(),
		Kind:       m.Kind(),
		Signals:    topSignals(cands, m.cfg.MaxPositions),
		ProducedAt: in.AsOf,
	}, nil
}

func (m *Momentum) score(ctx context.Context, ticker string, bars []domain.Bar) (scored, bool) {
	closes := indicators.Closes(bars)
	last := closes[len(closes)-1]

	total := 0.0
	parts := make([]string, 0, len(m.cfg.Lookbacks))
	for _, lb := range m.cfg.Lookbacks {
		r, err := indicators.Return(closes, lb)
		if err != nil || r < m.cfg.Threshold {
			return scored{}, false
		}
		total += r
		parts = append(parts, fmt.Sprintf("%dd %+.1f%%", lb, r*100))
	}

	sma, err := m.trend.Calculate(ctx, bars)
	if err != nil || last <= sma {
		return scored{}, false
	}

	vols := indicators.Volumes(bars)
	avgVol, err := indicators.SMA(vols[:len(vols)-1], m.cfg.VolumePeriod)
	if err != nil || avgVol <= 0 {
		return scored{}, false
	}
	volRatio := vols[len(vols)-1] / avgVol
	if volRatio < m.cfg.VolumeMultiple {
		return scored{}, false
	}

	return scored{
		ticker: ticker,
		score:  total / float64(len(m.cfg.Lookbacks)),
		reason: fmt.Sprintf("momentum %s, above SMA%d, volume %.1fx", strings.Join(parts, " "), m.cfg.SMAPeriod, volRatio),
	}, true
}
