package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

type mockLogger struct {
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var asOf = time.Date(2025, 6, 6, 15, 0, 0, 0, time.UTC)

func newNormalizer(t *testing.T) (*Normalizer, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	n, err := New(Config{MinRiskFraction: 0.001, MaxRiskFraction: 0.05, DefaultRiskFraction: 0.02}, logger)
	require.NoError(t, err)
	return n, logger
}

func llmOutput(text string) domain.RawOutput {
	return domain.RawOutput{StrategyID: domain.StrategyClaude, Kind: domain.KindLLM, Text: text}
}

func TestNew_InvalidBounds(t *testing.T) {
	_, err := New(Config{MaxRiskFraction: 0.01, DefaultRiskFraction: 0.02}, &mockLogger{})
	assert.Error(t, err)
	_, err = New(Config{MaxRiskFraction: 0.05, DefaultRiskFraction: 0.02}, nil)
	assert.Error(t, err)
}

func TestNormalize_FencedJSONWithProse(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL", "MSFT", "NVDA"})
	text := "Here are my picks for this week:\n```json\n" +
		`{"recommendations":[
			{"ticker":"aapl","action":"BUY","confidence":0.8,"risk_fraction":0.02,"reasoning":"earnings"},
			{"ticker":"MSFT","action":"short","confidence":"65%","reasoning":"overbought"},
			{"ticker":"NVDA","action":"hold","confidence":0.9}
		]}` + "\n```\nGood luck!"

	recs, drops, err := n.NormalizeDetailed(context.Background(), llmOutput(text), u, asOf)
	require.NoError(t, err)
	assert.Empty(t, drops)
	require.Len(t, recs, 2)

	assert.Equal(t, "AAPL", recs[0].Ticker)
	assert.Equal(t, domain.Buy, recs[0].Side)
	assert.Equal(t, 0.8, recs[0].Confidence)
	assert.Equal(t, 0.02, recs[0].RiskFraction)
	assert.Equal(t, "earnings", recs[0].Rationale)
	assert.Equal(t, domain.StrategyClaude, recs[0].StrategyID)
	assert.Equal(t, asOf, recs[0].AsOf)

	assert.Equal(t, "MSFT", recs[1].Ticker)
	assert.Equal(t, domain.Sell, recs[1].Side)
	assert.InDelta(t, 0.65, recs[1].Confidence, 1e-9)
	assert.Equal(t, 0.02, recs[1].RiskFraction, "missing risk fraction takes the default")
}

func TestNormalize_BareArrayAndAliases(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"XOM"})
	text := `[{"symbol":"XOM","side":"long","confidence":70,"risk":"3%","rationale":"oil"}]`

	recs, err := n.Normalize(context.Background(), llmOutput(text), u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.Buy, recs[0].Side)
	assert.InDelta(t, 0.7, recs[0].Confidence, 1e-9)
	assert.InDelta(t, 0.03, recs[0].RiskFraction, 1e-9)
	assert.Equal(t, "oil", recs[0].Rationale)
}

func TestNormalize_Malformed(t *testing.T) {
	n, logger := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL"})

	for name, text := range map[string]string{
		"empty":        "",
		"prose":        "I think the market will go up this week.",
		"broken json":  `{"recommendations": [{"ticker": "AAPL", "action": "buy"`,
		"wrong object": `{"picks": []}`,
		"all invalid":  `[{"ticker":"AAPL","action":"buy","confidence":"high"}, 42]`,
	} {
		t.Run(name, func(t *testing.T) {
			recs, err := n.Normalize(context.Background(), llmOutput(text), u, asOf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ports.ErrMalformedRecommendation))
			assert.NotNil(t, recs)
			assert.Empty(t, recs)
		})
	}
	assert.Len(t, logger.warnMsgs, 5)
}

func TestNormalize_DropsInvalidEntries(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL", "MSFT", "AMZN", "TSLA"})
	text := `{"recommendations":[
		{"ticker":"GME","action":"buy"},
		{"ticker":"AAPL","action":"accumulate"},
		{"ticker":"MSFT","action":"buy","risk_fraction":-0.01},
		{"ticker":"AMZN","action":"buy","risk_fraction":0.5},
		{"ticker":"","action":"buy"},
		{"ticker":"TSLA","action":"sell","risk_fraction":0}
	]}`

	recs, drops, err := n.NormalizeDetailed(context.Background(), llmOutput(text), u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "AMZN", recs[0].Ticker)
	assert.Equal(t, 0.05, recs[0].RiskFraction, "risk fraction above the maximum is clamped")

	reasons := map[string]string{}
	for _, d := range drops {
		reasons[d.Ticker] = d.Reason
	}
	assert.Equal(t, "not in universe", reasons["GME"])
	assert.Contains(t, reasons["AAPL"], "unknown side")
	assert.Contains(t, reasons["MSFT"], "invalid risk fraction")
	assert.Contains(t, reasons["TSLA"], "invalid risk fraction")
	assert.Equal(t, "missing ticker", reasons[""])
}

func TestNormalize_MalformedEntryKeepsSiblings(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL", "MSFT", "NVDA"})
	text := `{"recommendations":[
		{"ticker":"AAPL","action":"buy","confidence":0.8},
		{"ticker":"MSFT","action":"buy","confidence":"high"},
		"NVDA"
	], "trades":[{"symbol":"NVDA","side":"sell","risk":"2%"}]}`

	recs, drops, err := n.NormalizeDetailed(context.Background(), llmOutput(text), u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAPL", recs[0].Ticker)
	assert.Equal(t, "NVDA", recs[1].Ticker)
	assert.Equal(t, domain.Sell, recs[1].Side)
	assert.InDelta(t, 0.02, recs[1].RiskFraction, 1e-12)

	require.Len(t, drops, 2)
	assert.Equal(t, Drop{Ticker: "MSFT", Reason: ReasonMalformedEntry}, drops[0])
	assert.Equal(t, Drop{Ticker: "", Reason: ReasonMalformedEntry}, drops[1])

	arr := `[{"ticker":"AAPL","action":"buy"},{"ticker":"MSFT","action":"buy","risk_fraction":{"v":1}}]`
	recs, err = n.Normalize(context.Background(), llmOutput(arr), u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "AAPL", recs[0].Ticker)
}

func TestNormalize_DuplicateKeepsHighestConfidence(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL"})
	text := `{"recommendations":[
		{"ticker":"AAPL","action":"buy","confidence":0.4},
		{"ticker":"AAPL","action":"sell","confidence":0.9},
		{"ticker":"AAPL","action":"buy","confidence":0.6}
	]}`

	recs, drops, err := n.NormalizeDetailed(context.Background(), llmOutput(text), u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.Sell, recs[0].Side)
	assert.Equal(t, 0.9, recs[0].Confidence)
	assert.Len(t, drops, 2)
}

func TestNormalize_RuleSignals(t *testing.T) {
	n, _ := newNormalizer(t)
	u := domain.NewUniverse(asOf, []string{"AAPL", "MSFT"})
	raw := domain.RawOutput{
		StrategyID: domain.StrategyMomentum,
		Kind:       domain.KindRule,
		Signals: []domain.Signal{
			{Ticker: "MSFT", Action: "buy", Confidence: 0.5},
			{Ticker: "AAPL", Action: "buy", Confidence: 0.7, RiskFraction: 0.01},
		},
	}

	recs, err := n.Normalize(context.Background(), raw, u, asOf)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "AAPL", recs[0].Ticker, "sorted by confidence")
	assert.Equal(t, 0.01, recs[0].RiskFraction)
	assert.Equal(t, 0.02, recs[1].RiskFraction)

	empty, err := n.Normalize(context.Background(), domain.RawOutput{StrategyID: domain.StrategyMomentum, Kind: domain.KindRule}, u, asOf)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`prefix {"a":1} suffix`))
	assert.Equal(t, `[1,2]`, extractJSON(`numbers: [1,2].`))
	assert.Equal(t, "", extractJSON("nothing here"))
}
