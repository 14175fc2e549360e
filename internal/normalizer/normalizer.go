// Package normalizer turns raw strategy output into uniform recommendations.
package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Config bounds the risk fraction a recommendation may carry.
type Config struct {
	MinRiskFraction     float64
	MaxRiskFraction     float64
	DefaultRiskFraction float64
}

// ReasonMalformedEntry marks an entry whose fields could not be decoded.
const ReasonMalformedEntry = "malformed entry"

// Drop records an entry the normalizer discarded.
type Drop struct {
	Ticker string
	Reason string
}

// Normalizer validates and canonicalizes raw strategy output.
type Normalizer struct {
	cfg    Config
	logger ports.Logger
}

// New creates a Normalizer.
func New(cfg Config, logger ports.Logger) (*Normalizer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for normalizer")
	}
	if cfg.MaxRiskFraction <= 0 || cfg.DefaultRiskFraction <= 0 || cfg.DefaultRiskFraction > cfg.MaxRiskFraction {
		return nil, fmt.Errorf("invalid risk fraction bounds: default %.4f max %.4f", cfg.DefaultRiskFraction, cfg.MaxRiskFraction)
	}
	return &Normalizer{cfg: cfg, logger: logger}, nil
}

// Normalize parses one strategy's raw output into recommendations. If the
// output cannot be parsed at all it returns an empty slice and an error
// wrapping ports.ErrMalformedRecommendation.
func (n *Normalizer) Normalize(ctx context.Context, raw domain.RawOutput, universe *domain.Universe, asOf time.Time) ([]domain.Recommendation, error) {
	recs, _, err := n.NormalizeDetailed(ctx, raw, universe, asOf)
	return recs, err
}

// NormalizeDetailed is Normalize plus the list of discarded entries.
func (n *Normalizer) NormalizeDetailed(ctx context.Context, raw domain.RawOutput, universe *domain.Universe, asOf time.Time) ([]domain.Recommendation, []Drop, error) {
	var entries []entry
	switch {
	case len(raw.Signals) > 0 || raw.Kind == domain.KindRule:
		entries = fromSignals(raw.Signals)
	default:
		var err error
		entries, err = parseText(raw.Text)
		if err != nil {
			err = fmt.Errorf("%s output: %v: %w", raw.StrategyID, err, ports.ErrMalformedRecommendation)
			n.logger.Warn(ctx, "Rejected strategy output", map[string]interface{}{
				"strategy": raw.StrategyID,
				"reason":   err.Error(),
				"length":   len(raw.Text),
			})
			return []domain.Recommendation{}, nil, err
		}
	}

	best := make(map[string]domain.Recommendation, len(entries))
	var drops []Drop
	drop := func(ticker, reason string) {
		drops = append(drops, Drop{Ticker: ticker, Reason: reason})
	}

	for _, e := range entries {
		ticker := domain.NormalizeTicker(e.Ticker)
		if e.Malformed != "" {
			drop(ticker, ReasonMalformedEntry)
			n.logger.Debug(ctx, "Skipping unreadable recommendation entry", map[string]interface{}{
				"strategy": raw.StrategyID,
				"ticker":   ticker,
				"error":    e.Malformed,
			})
			continue
		}
		if ticker == "" {
			drop("", "missing ticker")
			continue
		}
		if isHold(e.Action) {
			continue
		}
		side, ok := domain.ParseSide(e.Action)
		if !ok {
			drop(ticker, fmt.Sprintf("unknown side %q", e.Action))
			continue
		}
		if !universe.Contains(ticker) {
			drop(ticker, "not in universe")
			continue
		}
		rf, ok := n.riskFraction(e.RiskFraction)
		if !ok {
			drop(ticker, fmt.Sprintf("invalid risk fraction %v", e.RiskFraction))
			continue
		}
		rec := domain.Recommendation{
			StrategyID:   raw.StrategyID,
			Ticker:       ticker,
			Side:         side,
			Confidence:   confidence(e.Confidence),
			Rationale:    strings.TrimSpace(e.Reason),
			RiskFraction: rf,
			AsOf:         asOf,
		}
		if prev, seen := best[ticker]; seen {
			drop(ticker, "duplicate ticker with lower confidence")
			if rec.Confidence <= prev.Confidence {
				continue
			}
		}
		best[ticker] = rec
	}

	out := make([]domain.Recommendation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Ticker < out[j].Ticker
	})

	if len(drops) > 0 {
		n.logger.Debug(ctx, "Dropped recommendation entries", map[string]interface{}{
			"strategy": raw.StrategyID,
			"dropped":  len(drops),
			"kept":     len(out),
		})
	}
	return out, drops, nil
}

func (n *Normalizer) riskFraction(v *float64) (float64, bool) {
	if v == nil {
		return n.cfg.DefaultRiskFraction, true
	}
	f := *v
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	if f > 1 && f <= 100 {
		f /= 100 // percent
	}
	if f < n.cfg.MinRiskFraction {
		return 0, false
	}
	if f > n.cfg.MaxRiskFraction {
		f = n.cfg.MaxRiskFraction
	}
	return f, true
}

func confidence(v *float64) float64 {
	if v == nil || math.IsNaN(*v) || *v < 0 {
		return 0
	}
	c := *v
	if c > 1 && c <= 100 {
		c /= 100
	}
	return math.Min(c, 1)
}

func isHold(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "hold", "none", "wait", "neutral":
		return true
	}
	return false
}

// entry is one loosely-typed recommendation before validation.
type entry struct {
	Ticker       string
	Action       string
	Confidence   *float64
	RiskFraction *float64
	Reason       string
	Malformed    string // decode error, set when the entry could not be read
}

func fromSignals(signals []domain.Signal) []entry {
	out := make([]entry, 0, len(signals))
	for _, s := range signals {
		c := s.Confidence
		e := entry{Ticker: s.Ticker, Action: s.Action, Confidence: &c, Reason: s.Reason}
		if s.RiskFraction != 0 {
			rf := s.RiskFraction
			e.RiskFraction = &rf
		}
		out = append(out, e)
	}
	return out
}

// llmEntry accepts the field spellings LLMs commonly produce.
type llmEntry struct {
	Ticker       string     `json:"ticker"`
	Symbol       string     `json:"symbol"`
	Action       string     `json:"action"`
	Side         string     `json:"side"`
	Confidence   *flexFloat `json:"confidence"`
	RiskFraction *flexFloat `json:"risk_fraction"`
	Risk         *flexFloat `json:"risk"`
	Reasoning    string     `json:"reasoning"`
	Rationale    string     `json:"rationale"`
}

type llmEnvelope struct {
	Recommendations []json.RawMessage `json:"recommendations"`
	Trades          []json.RawMessage `json:"trades"`
}

// parseText decodes each element on its own so that one bad entry does not
// discard its siblings. The output is malformed only when no JSON payload is
// found, the payload has no recommendation list, or every element fails.
func parseText(text string) ([]entry, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("no JSON object found")
	}

	var list []json.RawMessage
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %v", err)
		}
	} else {
		var env llmEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %v", err)
		}
		if env.Recommendations == nil && env.Trades == nil {
			return nil, fmt.Errorf("JSON object has no recommendations field")
		}
		list = append(env.Recommendations, env.Trades...)
	}

	out := make([]entry, 0, len(list))
	failed := 0
	var lastErr error
	for _, item := range list {
		var e llmEntry
		if err := json.Unmarshal(item, &e); err != nil {
			failed++
			lastErr = err
			out = append(out, entry{Ticker: tickerOf(item), Malformed: err.Error()})
			continue
		}
		out = append(out, entry{
			Ticker:       firstNonEmpty(e.Ticker, e.Symbol),
			Action:       firstNonEmpty(e.Action, e.Side),
			Confidence:   e.Confidence.ptr(),
			RiskFraction: firstNonNil(e.RiskFraction, e.Risk).ptr(),
			Reason:       firstNonEmpty(e.Reasoning, e.Rationale),
		})
	}
	if failed > 0 && failed == len(list) {
		return nil, fmt.Errorf("all %d entries invalid, last: %v", failed, lastErr)
	}
	return out, nil
}

// tickerOf recovers the ticker of an entry that failed to decode, if any.
func tickerOf(item json.RawMessage) string {
	var id struct {
		Ticker interface{} `json:"ticker"`
		Symbol interface{} `json:"symbol"`
	}
	if err := json.Unmarshal(item, &id); err != nil {
		return ""
	}
	for _, v := range []interface{}{id.Ticker, id.Symbol} {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// extractJSON pulls the JSON payload out of a completion that may wrap it in
// markdown fences or prose.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		rest = strings.TrimPrefix(rest, "JSON")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	if json.Valid([]byte(text)) {
		return text
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}

// flexFloat decodes numbers, numeric strings and percentages ("80%").
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	if pct {
		v /= 100
	}
	*f = flexFloat(v)
	return nil
}

func (f *flexFloat) ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(vals ...*flexFloat) *flexFloat {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
