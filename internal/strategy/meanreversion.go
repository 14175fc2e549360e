package strategy

import (
	"context"
	"fmt"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/indicators"
)

// MeanReversionConfig holds parameters for the mean reversion strategy
type MeanReversionConfig struct {
	Period        int     // window for the mean and standard deviation
	ZThreshold    float64 // buy when the close is this many deviations below the mean
	RSIPeriod     int
	RSIOversold   float64
	MaxCandidates int
	MaxPositions  int
}

// DefaultMeanReversionConfig returns the standard mean reversion parameters.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Period:        20,
		ZThreshold:    2.0,
		RSIPeriod:     14,
		RSIOversold:   30,
		MaxCandidates: 200,
		MaxPositions:  12,
	}
}

// MeanReversion buys oversold tickers stretched far below their mean.
type MeanReversion struct {
	cfg    MeanReversionConfig
	rsi    *indicators.RSI
	logger ports.Logger
}

// NewMeanReversion creates the Pure-MeanReversion strategy.
func NewMeanReversion(cfg MeanReversionConfig, logger ports.Logger) (*MeanReversion, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.Period < 2 || cfg.RSIPeriod <= 0 || cfg.ZThreshold <= 0 {
		return nil, fmt.Errorf("mean reversion parameters must be positive")
	}
	rsi := indicators.NewRSI(indicators.RSIConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: cfg.RSIPeriod},
		Overbought:      100 - cfg.RSIOversold,
		Oversold:        cfg.RSIOversold,
	})
	return &MeanReversion{cfg: cfg, rsi: rsi, logger: logger}, nil
}

func (m *MeanReversion) ID() domain.StrategyID     { return domain.StrategyMeanReversion }
func (m *MeanReversion) Kind() domain.StrategyKind { return domain.KindRule }

// RequiredDataPoints covers both the z-score window and the RSI lookback.
func (m *MeanReversion) RequiredDataPoints() int {
	if m.cfg.RSIPeriod+1 > m.cfg.Period {
		return m.cfg.RSIPeriod + 1
	}
	return m.cfg.Period
}

// Recommend emits buy signals for the deepest oversold candidates.
func (m *MeanReversion) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	need := m.RequiredDataPoints()
	tickers := Candidates(m.ID(), in, m.cfg.MaxCandidates)
	// extra history lets Wilder smoothing settle
	data, err := history(ctx, in.Market, tickers, in.AsOf, need*3, need)
	if err != nil {
		return domain.RawOutput{}, fmt.Errorf("mean reversion: %w", err)
	}

	var cands []scored
	for _, t := range tickers {
		bars, ok := data[t]
		if !ok {
			continue
		}
		closes := indicators.Closes(bars)
		z, err := indicators.ZScore(closes, m.cfg.Period)
		if err != nil || z > -m.cfg.ZThreshold {
			continue
		}
		rsi, err := m.rsi.Calculate(ctx, bars)
		if err != nil || !m.rsi.IsOversold(rsi) {
			continue
		}
		cands = append(cands, scored{
			ticker: t,
			score:  -z,
			reason: fmt.Sprintf("z-score %.2f vs SMA%d, RSI%d %.1f", z, m.cfg.Period, m.cfg.RSIPeriod, rsi),
		})
	}
	m.logger.Debug(ctx, "Mean reversion scan complete", map[string]interface{}{
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
