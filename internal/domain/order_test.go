package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to OrderState
		want     bool
	}{
		{StatePending, StateSubmitted, true},
		{StatePending, StateRejected, true},
		{StatePending, StateFilled, false},
		{StateSubmitted, StateFilled, true},
		{StateSubmitted, StateCancelled, true},
		{StateSubmitted, StateClosedStop, false},
		{StateFilled, StateClosedStop, true},
		{StateFilled, StateClosedProfit, true},
		{StateFilled, StateClosedExpired, true},
		{StateFilled, StateClosedManual, true},
		{StateFilled, StateRejected, false},
		{StateRejected, StateSubmitted, false},
		{StateClosedStop, StateClosedProfit, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestOrderState_Terminal(t *testing.T) {
	for _, s := range []OrderState{StateRejected, StateCancelled, StateClosedStop, StateClosedProfit, StateClosedExpired, StateClosedManual} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderState{StatePending, StateSubmitted, StateFilled} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.True(t, StateClosedExpired.IsClosed())
	assert.False(t, StateRejected.IsClosed())
}

func TestOrder_PNL(t *testing.T) {
	now := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	long := &Order{Side: Buy, Quantity: 10, FillPrice: 50, ExitPrice: 60, Commission: 1, State: StateClosedProfit, FilledAt: now, ClosedAt: now.Add(48 * time.Hour)}
	assert.InDelta(t, 99.0, long.PNL(), 1e-9)
	assert.Equal(t, 48*time.Hour, long.HoldingPeriod())

	short := &Order{Side: Sell, Quantity: 10, FillPrice: 50, ExitPrice: 60, State: StateClosedStop}
	assert.InDelta(t, -100.0, short.PNL(), 1e-9)

	open := &Order{Side: Buy, Quantity: 10, FillPrice: 50, State: StateFilled}
	assert.Zero(t, open.PNL())
}

func TestParseSide(t *testing.T) {
	s, ok := ParseSide(" BUY ")
	assert.True(t, ok)
	assert.Equal(t, Buy, s)
	s, ok = ParseSide("short")
	assert.True(t, ok)
	assert.Equal(t, Sell, s)
	_, ok = ParseSide("hold")
	assert.False(t, ok)
	assert.Equal(t, Sell, Buy.Opposite())
}

func TestUniverse(t *testing.T) {
	u := NewUniverse(time.Now(), []string{"acme", "ACME", " zzz ", ""})
	assert.Equal(t, 2, u.Len())
	assert.True(t, u.Contains("Acme"))
	assert.False(t, u.Contains("NOPE"))
	assert.Equal(t, []string{"ACME", "ZZZ"}, u.Tickers())
	assert.Equal(t, "PURE_MOMENTUM", StrategyMomentum.EnvKey())
}
