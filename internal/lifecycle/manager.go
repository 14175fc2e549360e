// Package lifecycle drives orders through their state machine against one
// strategy's brokerage account. Every transition is applied through the
// strategy's ledger; the manager never holds orders of its own.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ledger"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Close reasons recorded on Closed-* transitions.
const (
	ReasonStop     = "stop-loss"
	ReasonProfit   = "take-profit"
	ReasonExpired  = "max holding period"
	ReasonReversal = "reversal"
	ReasonManual   = "manual liquidation"
)

// Config holds the dependencies of a Manager.
type Config struct {
	Broker        ports.Broker
	Logger        ports.Logger
	Now           func() time.Time
	NewID         func() string
	SubmitTimeout time.Duration
}

// Manager submits and reconciles the orders of one strategy.
type Manager struct {
	strategy      domain.StrategyID
	broker        ports.Broker
	logger        ports.Logger
	now           func() time.Time
	newID         func() string
	submitTimeout time.Duration
}

// NewManager creates a lifecycle manager bound to one strategy's account.
func NewManager(strategy domain.StrategyID, cfg Config) (*Manager, error) {
	if cfg.Broker == nil {
		return nil, fmt.Errorf("broker is required for %s lifecycle manager", strategy)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for %s lifecycle manager", strategy)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	return &Manager{
		strategy:      strategy,
		broker:        cfg.Broker,
		logger:        cfg.Logger,
		now:           cfg.Now,
		newID:         cfg.NewID,
		submitTimeout: cfg.SubmitTimeout,
	}, nil
}

// Strategy is the strategy this manager serves.
func (m *Manager) Strategy() domain.StrategyID {
	return m.strategy
}

func (m *Manager) guard(l *ledger.Ledger) error {
	if l.StrategyID() != m.strategy {
		return fmt.Errorf("%s lifecycle manager used with %s ledger: %w", m.strategy, l.StrategyID(), ports.ErrLedgerIsolationViolation)
	}
	return nil
}

// Submit records a sized order as Pending and sends it to the broker. A
// broker error moves the order to Rejected and returns an error wrapping
// ports.ErrSubmissionFailure; there is no retry here.
func (m *Manager) Submit(ctx context.Context, l *ledger.Ledger, so domain.SizedOrder) (domain.Order, error) {
	return m.SubmitAttempt(ctx, l, so, 1)
}

// SubmitAttempt is Submit for the n-th attempt at the same recommendation.
func (m *Manager) SubmitAttempt(ctx context.Context, l *ledger.Ledger, so domain.SizedOrder, attempt int) (domain.Order, error) {
	op := "lifecycle.Submit"
	if err := m.guard(l); err != nil {
		return domain.Order{}, err
	}
	if so.StrategyID != m.strategy {
		return domain.Order{}, fmt.Errorf("%s: %s order routed to %s: %w", op, so.StrategyID, m.strategy, ports.ErrLedgerIsolationViolation)
	}
	if so.Quantity <= 0 {
		return domain.Order{}, fmt.Errorf("%s: %s quantity %d: %w", op, so.Ticker, so.Quantity, ports.ErrInsufficientSizing)
	}

	o := domain.NewOrder(m.newID(), m.newID(), so, m.now())
	o.Attempt = attempt
	if err := l.AddOrder(o); err != nil {
		return domain.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	subCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
	defer cancel()
	brokerID, err := m.broker.SubmitOrder(subCtx, ports.BrokerOrderRequest{
		ClientOrderID: o.ClientOrderID,
		Ticker:        o.Ticker,
		Side:          o.Side,
		Quantity:      o.Quantity,
	})
	if err != nil {
		rejected, applyErr := l.Apply(o.ID, ledger.Transition{To: domain.StateRejected, Reason: err.Error(), At: m.now()})
		if applyErr != nil {
			return rejected, fmt.Errorf("%s: reject %s: %w", op, o.ID, applyErr)
		}
		m.logger.Warn(ctx, "Order submission failed", map[string]interface{}{
			"op":       op,
			"strategy": m.strategy,
			"order_id": o.ID,
			"ticker":   o.Ticker,
			"attempt":  attempt,
			"error":    err.Error(),
		})
		return rejected, fmt.Errorf("%s %s: %v: %w", op, o.Ticker, err, ports.ErrSubmissionFailure)
	}

	submitted, err := l.Apply(o.ID, ledger.Transition{To: domain.StateSubmitted, BrokerOrderID: brokerID, At: m.now()})
	if err != nil {
		return submitted, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"op":              op,
		"strategy":        m.strategy,
		"order_id":        submitted.ID,
		"broker_order_id": brokerID,
		"ticker":          submitted.Ticker,
		"side":            submitted.Side,
		"quantity":        submitted.Quantity,
		"stop_loss":       submitted.StopLossPrice,
		"take_profit":     submitted.TakeProfitPrice,
	})
	return submitted, nil
}

// Refresh polls the broker for every Submitted order and applies fills,
// rejections and cancellations. Partial fills are left Submitted.
func (m *Manager) Refresh(ctx context.Context, l *ledger.Ledger) ([]domain.Order, error) {
	op := "lifecycle.Refresh"
	if err := m.guard(l); err != nil {
		return nil, err
	}

	var changed []domain.Order
	var errs []error
	for _, o := range l.Orders(func(o domain.Order) bool { return o.State == domain.StateSubmitted }) {
		status, err := m.broker.GetOrderStatus(ctx, o.BrokerOrderID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, o.ID, err))
			continue
		}

		tr := ledger.Transition{At: m.now()}
		switch status.Status {
		case ports.BrokerStatusFilled:
			tr.To = domain.StateFilled
			tr.Price = status.FilledAvgPrice
			if !status.UpdatedAt.IsZero() {
				tr.At = status.UpdatedAt
			}
			if tr.Price <= 0 {
				tr.Price = o.EntryPriceHint
			}
		case ports.BrokerStatusCanceled, ports.BrokerStatusExpired:
			tr.To = domain.StateCancelled
			tr.Reason = "broker " + status.Status
		case ports.BrokerStatusRejected:
			tr.To = domain.StateRejected
			tr.Reason = "broker rejected"
		default:
			continue
		}

		updated, err := l.Apply(o.ID, tr)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, o.ID, err))
			continue
		}
		m.logger.Debug(ctx, "Order status applied", map[string]interface{}{
			"op":       op,
			"strategy": m.strategy,
			"order_id": o.ID,
			"state":    updated.State,
			"price":    updated.FillPrice,
		})
		changed = append(changed, updated)
	}
	return changed, errors.Join(errs...)
}

// Exit is the outcome of evaluating one market update against an order.
type Exit struct {
	State  domain.OrderState
	Price  float64
	Reason string
}

// Evaluate decides whether an update closes a filled order. A stop-loss
// breach wins over a take-profit breach in the same update. The zero Exit
// means no transition.
func Evaluate(o domain.Order, u domain.MarketUpdate) Exit {
	if o.State != domain.StateFilled || u.Price <= 0 {
		return Exit{}
	}
	low, high := u.Range()
	ranged := low != high

	var stopHit, profitHit bool
	if o.Side == domain.Buy {
		stopHit = low <= o.StopLossPrice
		profitHit = high >= o.TakeProfitPrice
	} else {
		stopHit = high >= o.StopLossPrice
		profitHit = low <= o.TakeProfitPrice
	}

	switch {
	case stopHit:
		price := u.Price
		if ranged {
			price = o.StopLossPrice
		}
		return Exit{State: domain.StateClosedStop, Price: price, Reason: ReasonStop}
	case profitHit:
		price := u.Price
		if ranged {
			price = o.TakeProfitPrice
		}
		return Exit{State: domain.StateClosedProfit, Price: price, Reason: ReasonProfit}
	}
	return Exit{}
}

// Reconcile applies one market update to one order. It returns the new
// state, or "" when the update did not close the order. Updates whose
// sequence is not newer than the last one seen are refused with
// ports.ErrReconciliationConflict.
func (m *Manager) Reconcile(ctx context.Context, l *ledger.Ledger, orderID string, u domain.MarketUpdate) (domain.OrderState, error) {
	op := "lifecycle.Reconcile"
	if err := m.guard(l); err != nil {
		return "", err
	}
	o, ok := l.Order(orderID)
	if !ok {
		return "", fmt.Errorf("%s: order %s: %w", op, orderID, ports.ErrNotFound)
	}
	if o.Ticker != u.Ticker {
		return "", fmt.Errorf("%s: %s update for %s order: %w", op, u.Ticker, o.Ticker, ports.ErrInvalidRequest)
	}
	if o.State != domain.StateFilled {
		return "", nil
	}
	if u.Seq <= o.LastSeq {
		return "", fmt.Errorf("%s: order %s seq %d <= %d: %w", op, orderID, u.Seq, o.LastSeq, ports.ErrReconciliationConflict)
	}

	exit := Evaluate(o, u)
	if exit.State == "" {
		if err := l.ObserveSeq(orderID, u.Seq); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		return "", nil
	}

	closed, err := m.close(ctx, l, o, exit, u.Seq, u.At)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return closed.State, nil
}

// Outcome counts what a batch of reconciliation did.
type Outcome struct {
	Closed    []domain.Order
	Conflicts int
}

// ReconcileUpdate applies one market update to every filled order of the
// update's ticker. Conflicts are counted, not returned as errors.
func (m *Manager) ReconcileUpdate(ctx context.Context, l *ledger.Ledger, u domain.MarketUpdate) (Outcome, error) {
	var out Outcome
	var errs []error
	for _, o := range l.Orders(func(o domain.Order) bool { return o.State == domain.StateFilled && o.Ticker == u.Ticker }) {
		state, err := m.Reconcile(ctx, l, o.ID, u)
		switch {
		case errors.Is(err, ports.ErrReconciliationConflict):
			out.Conflicts++
			m.logger.Debug(ctx, "Discarded stale market update", map[string]interface{}{
				"strategy": m.strategy,
				"order_id": o.ID,
				"ticker":   u.Ticker,
				"seq":      u.Seq,
			})
		case err != nil:
			errs = append(errs, err)
		case state != "":
			closed, _ := l.Order(o.ID)
			out.Closed = append(out.Closed, closed)
		}
	}
	return out, errors.Join(errs...)
}

// Expire closes filled orders past their max hold time at the given marks
// (falling back to the broker's price) and cancels working orders that never
// filled before it.
func (m *Manager) Expire(ctx context.Context, l *ledger.Ledger, now time.Time, marks map[string]float64) ([]domain.Order, error) {
	op := "lifecycle.Expire"
	if err := m.guard(l); err != nil {
		return nil, err
	}

	var expired []domain.Order
	var errs []error
	for _, o := range l.OpenOrders() {
		if !now.After(o.MaxHoldUntil) {
			continue
		}
		switch o.State {
		case domain.StateFilled:
			price, err := m.priceFor(ctx, o.Ticker, marks)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", op, o.ID, err))
				continue
			}
			closed, err := m.close(ctx, l, o, Exit{State: domain.StateClosedExpired, Price: price, Reason: ReasonExpired}, 0, now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", op, err))
				continue
			}
			expired = append(expired, closed)
		case domain.StatePending, domain.StateSubmitted:
			cancelled, err := m.cancel(ctx, l, o, "expired before fill", now)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", op, err))
				continue
			}
			expired = append(expired, cancelled)
		}
	}
	return expired, errors.Join(errs...)
}

// ClosePosition closes a filled order manually, e.g. on a reversal.
func (m *Manager) ClosePosition(ctx context.Context, l *ledger.Ledger, orderID string, price float64, reason string) (domain.Order, error) {
	op := "lifecycle.ClosePosition"
	if err := m.guard(l); err != nil {
		return domain.Order{}, err
	}
	o, ok := l.Order(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("%s: order %s: %w", op, orderID, ports.ErrNotFound)
	}
	if price <= 0 {
		var err error
		if price, err = m.priceFor(ctx, o.Ticker, nil); err != nil {
			return o, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m.close(ctx, l, o, Exit{State: domain.StateClosedManual, Price: price, Reason: reason}, 0, m.now())
}

// Liquidate closes every filled order as Closed-Manual and cancels every
// working order.
func (m *Manager) Liquidate(ctx context.Context, l *ledger.Ledger, marks map[string]float64) ([]domain.Order, error) {
	op := "lifecycle.Liquidate"
	if err := m.guard(l); err != nil {
		return nil, err
	}

	var done []domain.Order
	var errs []error
	now := m.now()
	for _, o := range l.OpenOrders() {
		var (
			updated domain.Order
			err     error
		)
		if o.State == domain.StateFilled {
			var price float64
			if price, err = m.priceFor(ctx, o.Ticker, marks); err == nil {
				updated, err = m.close(ctx, l, o, Exit{State: domain.StateClosedManual, Price: price, Reason: ReasonManual}, 0, now)
			}
		} else {
			updated, err = m.cancel(ctx, l, o, ReasonManual, now)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", op, o.ID, err))
			continue
		}
		done = append(done, updated)
	}
	return done, errors.Join(errs...)
}

// close sends the offsetting market order and, once the broker accepts it,
// applies the Closed-* transition. On broker failure the order stays Filled.
func (m *Manager) close(ctx context.Context, l *ledger.Ledger, o domain.Order, exit Exit, seq uint64, at time.Time) (domain.Order, error) {
	subCtx, cancel := context.WithTimeout(ctx, m.submitTimeout)
	defer cancel()
	if _, err := m.broker.SubmitOrder(subCtx, ports.BrokerOrderRequest{
		ClientOrderID: m.newID(),
		Ticker:        o.Ticker,
		Side:          o.Side.Opposite(),
		Quantity:      o.Quantity,
	}); err != nil {
		m.logger.Error(ctx, err, "Closing order failed", map[string]interface{}{
			"strategy": m.strategy,
			"order_id": o.ID,
			"ticker":   o.Ticker,
			"exit":     exit.State,
		})
		return o, fmt.Errorf("close %s: %v: %w", o.ID, err, ports.ErrSubmissionFailure)
	}

	closed, err := l.Apply(o.ID, ledger.Transition{To: exit.State, Price: exit.Price, Seq: seq, Reason: exit.Reason, At: at})
	if err != nil {
		return closed, err
	}
	m.logger.Info(ctx, "Position closed", map[string]interface{}{
		"strategy": m.strategy,
		"order_id": closed.ID,
		"ticker":   closed.Ticker,
		"state":    closed.State,
		"exit":     closed.ExitPrice,
		"pnl":      closed.PNL(),
	})
	return closed, nil
}

func (m *Manager) cancel(ctx context.Context, l *ledger.Ledger, o domain.Order, reason string, at time.Time) (domain.Order, error) {
	if o.BrokerOrderID != "" {
		if err := m.broker.CancelOrder(ctx, o.BrokerOrderID); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
			return o, fmt.Errorf("cancel %s: %v: %w", o.ID, err, ports.ErrOrderCancelFailed)
		}
	}
	return l.Apply(o.ID, ledger.Transition{To: domain.StateCancelled, Reason: reason, At: at})
}

func (m *Manager) priceFor(ctx context.Context, ticker string, marks map[string]float64) (float64, error) {
	if px, ok := marks[ticker]; ok && px > 0 {
		return px, nil
	}
	px, err := m.broker.GetPrice(ctx, ticker)
	if err != nil {
		return 0, err
	}
	if px <= 0 {
		return 0, fmt.Errorf("%s: %w", ticker, ports.ErrNoPrice)
	}
	return px, nil
}
