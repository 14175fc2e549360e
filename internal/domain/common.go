package domain

import "strings"

// Side represents the direction of a recommendation or order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ParseSide maps the loose vocabulary strategies use onto a Side.
// The second return value is false for anything that is not a tradeable side.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "strong_buy", "strong buy":
		return Buy, true
	case "sell", "short", "strong_sell", "strong sell":
		return Sell, true
	default:
		return "", false
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for long exposure and -1 for short exposure.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// StrategyID identifies one strategy and, through it, one portfolio ledger.
type StrategyID string

const (
	StrategyChatGPT       StrategyID = "ChatGPT-GPT4"
	StrategyDeepSeek      StrategyID = "DeepSeek-Reasoner"
	StrategyClaude        StrategyID = "Claude-Sonnet"
	StrategyGemini        StrategyID = "Gemini-Pro"
	StrategyMomentum      StrategyID = "Pure-Momentum"
	StrategyMeanReversion StrategyID = "Pure-MeanReversion"
	StrategyRandomSharpe  StrategyID = "Random-SharpeWeighted"
)

// AllStrategies lists the seven strategies in display order.
var AllStrategies = []StrategyID{
	StrategyChatGPT,
	StrategyDeepSeek,
	StrategyClaude,
	StrategyGemini,
	StrategyMomentum,
	StrategyMeanReversion,
	StrategyRandomSharpe,
}

// StrategyKind distinguishes LLM-driven strategies from rule-based ones.
type StrategyKind string

const (
	KindLLM  StrategyKind = "llm"
	KindRule StrategyKind = "rule"
)

// EnvKey turns a strategy ID into an upper-case token usable in env var names,
// e.g. "Pure-Momentum" -> "PURE_MOMENTUM".
func (id StrategyID) EnvKey() string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return strings.ToUpper(r.Replace(string(id)))
}
