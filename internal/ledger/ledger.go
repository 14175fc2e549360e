// Package ledger holds the per-strategy portfolio ledgers. Each ledger owns
// its cash, positions, orders, transition events and equity history; the only
// way cash or positions change is through Apply.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Transition describes one state change applied to an order.
type Transition struct {
	To            domain.OrderState
	Price         float64 // fill price for Filled, exit price for Closed-*
	Seq           uint64  // market update sequence, 0 when not price driven
	Reason        string
	BrokerOrderID string
	At            time.Time
}

// Ledger is one strategy's portfolio.
type Ledger struct {
	mu sync.Mutex

	id               domain.StrategyID
	startingCapital  float64
	cash             float64
	transactionCost  float64
	paused           bool
	successfulCycles int

	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	orderIDs  []string // insertion order
	events    []domain.OrderEvent
	history   []domain.EquitySnapshot
	updatedAt time.Time
}

// New creates a ledger funded with starting capital. transactionCost is a
// fraction of notional charged on every fill and close.
func New(id domain.StrategyID, startingCapital, transactionCost float64) *Ledger {
	return &Ledger{
		id:              id,
		startingCapital: startingCapital,
		cash:            startingCapital,
		transactionCost: transactionCost,
		positions:       make(map[string]*domain.Position),
		orders:          make(map[string]*domain.Order),
	}
}

// FromState rebuilds a ledger from its persisted form.
func FromState(state domain.LedgerState, transactionCost float64) *Ledger {
	l := New(state.StrategyID, state.StartingCapital, transactionCost)
	l.cash = state.Cash
	l.paused = state.Paused
	l.successfulCycles = state.SuccessfulCycles
	l.updatedAt = state.UpdatedAt
	for t, p := range state.Positions {
		p := p
		l.positions[t] = &p
	}
	for i := range state.Orders {
		o := state.Orders[i]
		l.orders[o.ID] = &o
		l.orderIDs = append(l.orderIDs, o.ID)
	}
	l.events = append([]domain.OrderEvent(nil), state.Events...)
	l.history = append([]domain.EquitySnapshot(nil), state.History...)
	return l
}

// StrategyID is the owning strategy.
func (l *Ledger) StrategyID() domain.StrategyID {
	return l.id
}

// AddOrder registers a new Pending order. The order must belong to this
// ledger's strategy.
func (l *Ledger) AddOrder(o *domain.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.StrategyID != l.id {
		return fmt.Errorf("order %s of %s added to %s ledger: %w", o.ID, o.StrategyID, l.id, ports.ErrLedgerIsolationViolation)
	}
	if _, exists := l.orders[o.ID]; exists {
		return fmt.Errorf("order %s: %w", o.ID, ports.ErrDuplicateEntry)
	}
	if o.State != domain.StatePending {
		return fmt.Errorf("order %s must start %s, got %s: %w", o.ID, domain.StatePending, o.State, ports.ErrInvalidTransition)
	}
	cp := *o
	l.orders[o.ID] = &cp
	l.orderIDs = append(l.orderIDs, o.ID)
	l.events = append(l.events, domain.OrderEvent{
		OrderID:    o.ID,
		StrategyID: l.id,
		To:         domain.StatePending,
		Price:      o.EntryPriceHint,
		Reason:     o.Reason,
		At:         o.CreatedAt,
	})
	l.updatedAt = o.CreatedAt
	return nil
}

// Apply performs one order transition and the cash/position bookkeeping that
// goes with it. A transition carrying a sequence number at or below the last
// one observed for the order is refused with ports.ErrReconciliationConflict.
func (l *Ledger) Apply(orderID string, tr Transition) (domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s in %s ledger: %w", orderID, l.id, ports.ErrNotFound)
	}
	if o.StrategyID != l.id {
		return domain.Order{}, fmt.Errorf("order %s of %s held by %s ledger: %w", orderID, o.StrategyID, l.id, ports.ErrLedgerIsolationViolation)
	}
	if tr.Seq != 0 && tr.Seq <= o.LastSeq {
		return *o, fmt.Errorf("order %s update seq %d <= %d: %w", orderID, tr.Seq, o.LastSeq, ports.ErrReconciliationConflict)
	}
	if !domain.CanTransition(o.State, tr.To) {
		return *o, fmt.Errorf("order %s %s -> %s: %w", orderID, o.State, tr.To, ports.ErrInvalidTransition)
	}
	if (tr.To == domain.StateFilled || tr.To.IsClosed()) && tr.Price <= 0 {
		return *o, fmt.Errorf("order %s %s without a price: %w", orderID, tr.To, ports.ErrInvalidRequest)
	}

	if tr.To == domain.StateFilled {
		if p, held := l.positions[o.Ticker]; held && p.Side != o.Side {
			return *o, fmt.Errorf("order %s fills %s against a held %s position: %w", orderID, o.Side, p.Side, ports.ErrInvalidTransition)
		}
	}

	from := o.State
	switch {
	case tr.To == domain.StateSubmitted:
		if tr.BrokerOrderID != "" {
			o.BrokerOrderID = tr.BrokerOrderID
		}
	case tr.To == domain.StateFilled:
		l.fill(o, tr.Price, tr.At)
	case tr.To.IsClosed():
		l.close(o, tr.Price, tr.At)
	}

	o.State = tr.To
	o.UpdatedAt = tr.At
	if tr.Reason != "" {
		o.Reason = tr.Reason
	}
	if tr.Seq != 0 {
		o.LastSeq = tr.Seq
	}
	l.events = append(l.events, domain.OrderEvent{
		OrderID:    o.ID,
		StrategyID: l.id,
		From:       from,
		To:         tr.To,
		Price:      tr.Price,
		Seq:        tr.Seq,
		Reason:     tr.Reason,
		At:         tr.At,
	})
	l.updatedAt = tr.At
	return *o, nil
}

func (l *Ledger) fill(o *domain.Order, price float64, at time.Time) {
	notional := price * float64(o.Quantity)
	fee := notional * l.transactionCost
	o.FillPrice = price
	o.FilledAt = at
	o.Commission += fee

	// shorts receive the proceeds, longs pay for the shares
	l.cash -= o.Side.Sign()*notional + fee

	p, ok := l.positions[o.Ticker]
	if !ok {
		l.positions[o.Ticker] = &domain.Position{
			Ticker:    o.Ticker,
			Side:      o.Side,
			Quantity:  o.Quantity,
			AvgPrice:  price,
			LastPrice: price,
			OpenedAt:  at,
		}
		return
	}
	total := p.Quantity + o.Quantity
	p.AvgPrice = (p.AvgPrice*float64(p.Quantity) + notional) / float64(total)
	p.Quantity = total
	p.LastPrice = price
}

func (l *Ledger) close(o *domain.Order, price float64, at time.Time) {
	notional := price * float64(o.Quantity)
	fee := notional * l.transactionCost
	o.ExitPrice = price
	o.ClosedAt = at
	o.Commission += fee

	l.cash += o.Side.Sign()*notional - fee

	p, ok := l.positions[o.Ticker]
	if !ok {
		return
	}
	p.Quantity -= o.Quantity
	p.LastPrice = price
	if p.Quantity <= 0 {
		delete(l.positions, o.Ticker)
	}
}

// ObserveSeq records a market update sequence that did not trigger a
// transition, so a replay of it is detected later.
func (l *Ledger) ObserveSeq(orderID string, seq uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s in %s ledger: %w", orderID, l.id, ports.ErrNotFound)
	}
	if seq <= o.LastSeq {
		return fmt.Errorf("order %s update seq %d <= %d: %w", orderID, seq, o.LastSeq, ports.ErrReconciliationConflict)
	}
	o.LastSeq = seq
	return nil
}

// Mark updates the last price of held positions.
func (l *Ledger) Mark(prices map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for t, p := range l.positions {
		if px, ok := prices[t]; ok && px > 0 {
			p.LastPrice = px
		}
	}
}

// Equity is cash plus the mark-to-market value of positions.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity()
}

func (l *Ledger) equity() float64 {
	eq := l.cash
	for _, p := range l.positions {
		eq += p.MarketValue()
	}
	return eq
}

// Cash is the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Snapshot returns a read-only copy of the balances used for sizing.
// Available cash is equity less gross position exposure and the notional of
// orders still working.
func (l *Ledger) Snapshot(asOf time.Time) domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := domain.LedgerSnapshot{
		StrategyID: l.id,
		Cash:       l.cash,
		Equity:     l.equity(),
		Positions:  make(map[string]domain.Position, len(l.positions)),
		Working:    make(map[string]domain.Side),
		AsOf:       asOf,
	}
	var gross, pending float64
	for t, p := range l.positions {
		snap.Positions[t] = *p
		gross += p.Exposure()
	}
	for _, id := range l.orderIDs {
		o := l.orders[id]
		if o.State == domain.StatePending || o.State == domain.StateSubmitted {
			pending += o.EntryPriceHint * float64(o.Quantity)
			snap.Working[o.Ticker] = o.Side
		}
	}
	snap.Exposure = gross + pending
	snap.AvailableCash = snap.Equity - snap.Exposure
	if snap.AvailableCash < 0 {
		snap.AvailableCash = 0
	}
	return snap
}

// RecordSnapshot appends the day's equity snapshot. A second call on the same
// day replaces that day's entry; earlier days are never modified.
func (l *Ledger) RecordSnapshot(at time.Time) domain.EquitySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	snap := domain.EquitySnapshot{Date: day, Cash: l.cash, Equity: l.equity()}
	if n := len(l.history); n > 0 && l.history[n-1].Date.Equal(day) {
		l.history[n-1] = snap
		return snap
	}
	l.history = append(l.history, snap)
	return snap
}

// Order returns a copy of one order.
func (l *Ledger) Order(id string) (domain.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns copies of the orders matching filter, in creation order.
// A nil filter returns every order.
func (l *Ledger) Orders(filter func(domain.Order) bool) []domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Order, 0, len(l.orderIDs))
	for _, id := range l.orderIDs {
		o := *l.orders[id]
		if filter == nil || filter(o) {
			out = append(out, o)
		}
	}
	return out
}

// OpenOrders are orders that are not yet terminal.
func (l *Ledger) OpenOrders() []domain.Order {
	return l.Orders(func(o domain.Order) bool { return o.IsOpen() })
}

// FilledOrders are orders currently holding a position.
func (l *Ledger) FilledOrders() []domain.Order {
	return l.Orders(func(o domain.Order) bool { return o.State == domain.StateFilled })
}

// ClosedOrders are orders in one of the Closed-* states.
func (l *Ledger) ClosedOrders() []domain.Order {
	return l.Orders(func(o domain.Order) bool { return o.State.IsClosed() })
}

// OpenOrderFor returns the non-terminal order for a ticker, if any.
func (l *Ledger) OpenOrderFor(ticker string) (domain.Order, bool) {
	open := l.Orders(func(o domain.Order) bool { return o.IsOpen() && o.Ticker == ticker })
	if len(open) == 0 {
		return domain.Order{}, false
	}
	return open[len(open)-1], true
}

// Events returns a copy of the transition history.
func (l *Ledger) Events() []domain.OrderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.OrderEvent(nil), l.events...)
}

// History returns a copy of the daily equity snapshots.
func (l *Ledger) History() []domain.EquitySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.EquitySnapshot(nil), l.history...)
}

// Positions returns copies of current positions sorted by ticker.
func (l *Ledger) Positions() []domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Paused reports whether the strategy is paused.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// SetPaused pauses or resumes the strategy.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = paused
}

// IncSuccessfulCycles counts a cycle in which the strategy completed normally.
func (l *Ledger) IncSuccessfulCycles() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.successfulCycles++
}

// SuccessfulCycles is the number of cycles the strategy completed.
func (l *Ledger) SuccessfulCycles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.successfulCycles
}

// StartingCapital is the capital the ledger was created with.
func (l *Ledger) StartingCapital() float64 {
	return l.startingCapital
}

// State returns a deep copy of the ledger in its persisted form.
func (l *Ledger) State() domain.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := domain.LedgerState{
		StrategyID:       l.id,
		StartingCapital:  l.startingCapital,
		Cash:             l.cash,
		Paused:           l.paused,
		SuccessfulCycles: l.successfulCycles,
		Positions:        make(map[string]domain.Position, len(l.positions)),
		Orders:           make([]domain.Order, 0, len(l.orderIDs)),
		Events:           append([]domain.OrderEvent(nil), l.events...),
		History:          append([]domain.EquitySnapshot(nil), l.history...),
		UpdatedAt:        l.updatedAt,
	}
	for t, p := range l.positions {
		st.Positions[t] = *p
	}
	for _, id := range l.orderIDs {
		st.Orders = append(st.Orders, *l.orders[id])
	}
	return st
}
