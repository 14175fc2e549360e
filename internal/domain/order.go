package domain

import (
	"fmt"
	"time"
)

// OrderState is the lifecycle state of an Order.
type OrderState string

const (
	StatePending       OrderState = "PENDING"
	StateSubmitted     OrderState = "SUBMITTED"
	StateFilled        OrderState = "FILLED"
	StateRejected      OrderState = "REJECTED"
	StateCancelled     OrderState = "CANCELLED"
	StateClosedStop    OrderState = "CLOSED_STOP"
	StateClosedProfit  OrderState = "CLOSED_PROFIT"
	StateClosedExpired OrderState = "CLOSED_EXPIRED"
	StateClosedManual  OrderState = "CLOSED_MANUAL"
)

// transitions is the authority for which state changes are legal.
var transitions = map[OrderState][]OrderState{
	StatePending:   {StateSubmitted, StateRejected, StateCancelled},
	StateSubmitted: {StateFilled, StateRejected, StateCancelled},
	StateFilled:    {StateClosedStop, StateClosedProfit, StateClosedExpired, StateClosedManual},
}

// CanTransition reports whether from -> to is allowed by the order state machine.
func CanTransition(from, to OrderState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s OrderState) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// IsClosed reports whether the state is one of the Closed-* variants.
func (s OrderState) IsClosed() bool {
	switch s {
	case StateClosedStop, StateClosedProfit, StateClosedExpired, StateClosedManual:
		return true
	}
	return false
}

// SizedOrder is a Recommendation after risk translation.
type SizedOrder struct {
	StrategyID      StrategyID `json:"strategy_id"`
	Ticker          string     `json:"ticker"`
	Side            Side       `json:"side"`
	Quantity        int64      `json:"quantity"`
	EntryPriceHint  float64    `json:"entry_price_hint"`
	StopLossPrice   float64    `json:"stop_loss_price"`
	TakeProfitPrice float64    `json:"take_profit_price"`
	MaxHoldUntil    time.Time  `json:"max_hold_until"`
	Volatility      float64    `json:"volatility"`
	RiskFraction    float64    `json:"risk_fraction"`
}

// Notional is the cash the order commits at its entry hint.
func (s SizedOrder) Notional() float64 {
	return float64(s.Quantity) * s.EntryPriceHint
}

// StopDistance is the absolute price distance between entry hint and stop.
func (s SizedOrder) StopDistance() float64 {
	d := s.EntryPriceHint - s.StopLossPrice
	if d < 0 {
		return -d
	}
	return d
}

// Order is the lifecycle-tracked execution unit derived 1:1 from a SizedOrder.
type Order struct {
	ID              string     `json:"id"`
	ClientOrderID   string     `json:"client_order_id"`
	BrokerOrderID   string     `json:"broker_order_id,omitempty"`
	StrategyID      StrategyID `json:"strategy_id"`
	Ticker          string     `json:"ticker"`
	Side            Side       `json:"side"`
	Quantity        int64      `json:"quantity"`
	EntryPriceHint  float64    `json:"entry_price_hint"`
	StopLossPrice   float64    `json:"stop_loss_price"`
	TakeProfitPrice float64    `json:"take_profit_price"`
	MaxHoldUntil    time.Time  `json:"max_hold_until"`
	State           OrderState `json:"state"`
	FillPrice       float64    `json:"fill_price,omitempty"`
	ExitPrice       float64    `json:"exit_price,omitempty"`
	Commission      float64    `json:"commission,omitempty"`
	LastSeq         uint64     `json:"last_seq"` // highest market update sequence observed
	Reason          string     `json:"reason,omitempty"`
	Attempt         int        `json:"attempt"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FilledAt        time.Time  `json:"filled_at,omitempty"`
	ClosedAt        time.Time  `json:"closed_at,omitempty"`
}

// NewOrder derives a Pending order from a sized order.
func NewOrder(id, clientOrderID string, so SizedOrder, now time.Time) *Order {
	return &Order{
		ID:              id,
		ClientOrderID:   clientOrderID,
		StrategyID:      so.StrategyID,
		Ticker:          so.Ticker,
		Side:            so.Side,
		Quantity:        so.Quantity,
		EntryPriceHint:  so.EntryPriceHint,
		StopLossPrice:   so.StopLossPrice,
		TakeProfitPrice: so.TakeProfitPrice,
		MaxHoldUntil:    so.MaxHoldUntil,
		State:           StatePending,
		Attempt:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsOpen reports whether the order still holds or may still hold a position.
func (o *Order) IsOpen() bool {
	return !o.State.IsTerminal()
}

// PNL returns realized profit and loss for a closed order, net of commissions.
func (o *Order) PNL() float64 {
	if !o.State.IsClosed() {
		return 0
	}
	return o.Side.Sign()*(o.ExitPrice-o.FillPrice)*float64(o.Quantity) - o.Commission
}

// HoldingPeriod is the time between fill and close.
func (o *Order) HoldingPeriod() time.Duration {
	if o.FilledAt.IsZero() || o.ClosedAt.IsZero() {
		return 0
	}
	return o.ClosedAt.Sub(o.FilledAt)
}

func (o *Order) String() string {
	return fmt.Sprintf("%s[%s %s %d %s %s]", o.ID, o.StrategyID, o.Side, o.Quantity, o.Ticker, o.State)
}

// OrderEvent is an immutable record of one applied transition.
type OrderEvent struct {
	OrderID    string     `json:"order_id"`
	StrategyID StrategyID `json:"strategy_id"`
	From       OrderState `json:"from"`
	To         OrderState `json:"to"`
	Price      float64    `json:"price,omitempty"`
	Seq        uint64     `json:"seq,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	At         time.Time  `json:"at"`
}
