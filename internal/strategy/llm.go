package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/indicators"
)

const systemPrompt = `You are a portfolio manager running a long/short US equity book. ` +
	`Each week you review your portfolio and recommend trades from a candidate list. ` +
	`Respond with JSON only.`

const responseContract = `Respond with a JSON object of this exact shape:
{"recommendations":[{"ticker":"AAPL","action":"buy","confidence":0.8,"risk_fraction":0.02,"reasoning":"short reason"}]}
- action is "buy", "sell" or "hold"
- confidence is between 0 and 1
- risk_fraction is the fraction of equity you are willing to lose on the trade (at most %.3f)
- only use tickers from the candidate list or your current holdings
- recommend at most %d trades`

// LLMConfig holds parameters for an LLM-driven strategy
type LLMConfig struct {
	MaxCandidates   int
	MaxTrades       int
	MaxRiskFraction float64
	Temperature     float64
	MaxTokens       int
	WithMarketStats bool // include price and 20-day return per candidate
}

// DefaultLLMConfig returns the standard LLM strategy parameters.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		MaxCandidates:   60,
		MaxTrades:       10,
		MaxRiskFraction: 0.05,
		Temperature:     0.3,
		MaxTokens:       2000,
		WithMarketStats: true,
	}
}

// LLM asks a language model for recommendations. The completion text is
// returned untouched for the normalizer.
type LLM struct {
	id     domain.StrategyID
	client ports.LLMClient
	cfg    LLMConfig
	logger ports.Logger
}

// NewLLM creates an LLM strategy backed by one provider.
func NewLLM(id domain.StrategyID, client ports.LLMClient, cfg LLMConfig, logger ports.Logger) (*LLM, error) {
	if client == nil {
		return nil, fmt.Errorf("%s: LLM client is required", id)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = 10
	}
	return &LLM{id: id, client: client, cfg: cfg, logger: logger}, nil
}

func (s *LLM) ID() domain.StrategyID     { return s.id }
func (s *LLM) Kind() domain.StrategyKind { return domain.KindLLM }

// Recommend builds the prompt and queries the provider once. Retries are
// the caller's decision.
func (s *LLM) Recommend(ctx context.Context, in ports.StrategyInput) (domain.RawOutput, error) {
	prompt := s.BuildPrompt(ctx, in)
	text, err := s.client.Query(ctx, prompt)
	if err != nil {
		return domain.RawOutput{}, fmt.Errorf("%s query: %w", s.id, err)
	}
	s.logger.Debug(ctx, "LLM completion received", map[string]interface{}{
		"strategy": s.id,
		"model":    s.client.Model(),
		"length":   len(text),
	})
	return domain.RawOutput{
		StrategyID: s.id,
		Kind:       domain.KindLLM,
		Text:       text,
		Model:      s.client.Model(),
		ProducedAt: in.AsOf,
	}, nil
}

// BuildPrompt renders the portfolio, the candidates and the response contract.
func (s *LLM) BuildPrompt(ctx context.Context, in ports.StrategyInput) ports.Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n\n", in.AsOf.Format("Monday 2006-01-02"))

	snap := in.Ledger
	fmt.Fprintf(&b, "Portfolio equity: %.2f\nCash: %.2f\nAvailable for new trades: %.2f\n", snap.Equity, snap.Cash, snap.AvailableCash)
	if len(snap.Positions) == 0 {
		b.WriteString("Current holdings: none\n")
	} else {
		b.WriteString("Current holdings:\n")
		held := make([]string, 0, len(snap.Positions))
		for t := range snap.Positions {
			held = append(held, t)
		}
		sort.Strings(held)
		for _, t := range held {
			p := snap.Positions[t]
			fmt.Fprintf(&b, "- %s %s %d @ %.2f (last %.2f, unrealized %+.2f)\n", t, p.Side, p.Quantity, p.AvgPrice, p.LastPrice, p.UnrealizedPNL())
		}
	}

	b.WriteString("\nCandidates:\n")
	for _, t := range Candidates(s.id, in, s.cfg.MaxCandidates) {
		if line, ok := s.statsLine(ctx, in, t); ok {
			b.WriteString(line)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", t)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, responseContract, s.cfg.MaxRiskFraction, s.cfg.MaxTrades)
	b.WriteString("\n")

	return ports.Prompt{
		System:      systemPrompt,
		User:        b.String(),
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	}
}

func (s *LLM) statsLine(ctx context.Context, in ports.StrategyInput, ticker string) (string, bool) {
	if !s.cfg.WithMarketStats || in.Market == nil {
		return "", false
	}
	bars, err := in.Market.GetBars(ctx, ticker, in.AsOf, 21)
	if err != nil || len(bars) < 21 {
		return "", false
	}
	closes := indicators.Closes(bars)
	r, err := indicators.Return(closes, 20)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("- %s price %.2f, 20d %+.1f%%\n", ticker, closes[len(closes)-1], r*100), true
}
