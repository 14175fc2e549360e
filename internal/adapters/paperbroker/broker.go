// Package paperbroker simulates one brokerage account against a market data
// source. It backs dry runs, backtests and tests.
package paperbroker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Option configures a Broker.
type Option func(*Broker)

// WithSlippage fills buys that fraction above and sells below the market price.
func WithSlippage(frac float64) Option {
	return func(b *Broker) { b.slippage = frac }
}

// WithClock sets the time source used to stamp fills.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// WithRejector installs a hook that may refuse an order before it is placed.
func WithRejector(fn func(ports.BrokerOrderRequest) error) Option {
	return func(b *Broker) { b.reject = fn }
}

// Broker is a paper trading account. Market orders fill at the market price
// when placed; the fill is reported through GetOrderStatus.
type Broker struct {
	market   ports.MarketData
	slippage float64
	now      func() time.Time
	reject   func(ports.BrokerOrderRequest) error

	mu        sync.Mutex
	seq       int
	cash      float64
	orders    map[string]ports.BrokerOrderStatus
	byClient  map[string]string
	positions map[string]int64
}

// New creates a paper account funded with cash.
func New(cash float64, market ports.MarketData, opts ...Option) *Broker {
	b := &Broker{
		market:    market,
		now:       time.Now,
		cash:      cash,
		orders:    make(map[string]ports.BrokerOrderStatus),
		byClient:  make(map[string]string),
		positions: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubmitOrder fills a market order immediately. Resubmitting a client order
// ID returns the original order.
func (b *Broker) SubmitOrder(ctx context.Context, req ports.BrokerOrderRequest) (string, error) {
	if req.Quantity <= 0 || req.Ticker == "" {
		return "", fmt.Errorf("paper order %+v: %w", req, ports.ErrInvalidRequest)
	}
	if b.reject != nil {
		if err := b.reject(req); err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	if id, ok := b.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		b.mu.Unlock()
		return id, nil
	}
	b.mu.Unlock()

	px, err := b.market.GetPrice(ctx, req.Ticker)
	if err != nil {
		return "", fmt.Errorf("paper price %s: %v: %w", req.Ticker, err, ports.ErrOrderPlacementFailed)
	}
	if px <= 0 {
		return "", fmt.Errorf("paper price %s: %w", req.Ticker, ports.ErrNoPrice)
	}
	fill := px * (1 + req.Side.Sign()*b.slippage)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := "paper-" + strconv.Itoa(b.seq)
	signed := req.Quantity
	if req.Side == domain.Sell {
		signed = -signed
	}
	b.positions[req.Ticker] += signed
	if b.positions[req.Ticker] == 0 {
		delete(b.positions, req.Ticker)
	}
	b.cash -= float64(signed) * fill
	b.orders[id] = ports.BrokerOrderStatus{
		ID:             id,
		ClientOrderID:  req.ClientOrderID,
		Status:         ports.BrokerStatusFilled,
		FilledQuantity: req.Quantity,
		FilledAvgPrice: fill,
		UpdatedAt:      b.now(),
	}
	if req.ClientOrderID != "" {
		b.byClient[req.ClientOrderID] = id
	}
	return id, nil
}

// GetOrderStatus returns the stored status of an order.
func (b *Broker) GetOrderStatus(ctx context.Context, brokerOrderID string) (ports.BrokerOrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.orders[brokerOrderID]
	if !ok {
		return ports.BrokerOrderStatus{}, fmt.Errorf("paper order %s: %w", brokerOrderID, ports.ErrOrderNotFound)
	}
	return st, nil
}

// CancelOrder refuses to cancel filled orders.
func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("paper order %s: %w", brokerOrderID, ports.ErrOrderNotFound)
	}
	if st.Status == ports.BrokerStatusFilled {
		return fmt.Errorf("paper order %s already filled: %w", brokerOrderID, ports.ErrOrderCancelFailed)
	}
	st.Status = ports.BrokerStatusCanceled
	st.UpdatedAt = b.now()
	b.orders[brokerOrderID] = st
	return nil
}

// GetPrice delegates to the market data source.
func (b *Broker) GetPrice(ctx context.Context, ticker string) (float64, error) {
	return b.market.GetPrice(ctx, ticker)
}

// GetAccountSnapshot values positions at current market prices; a position
// without a price is valued at zero.
func (b *Broker) GetAccountSnapshot(ctx context.Context) (ports.AccountSnapshot, error) {
	b.mu.Lock()
	snap := ports.AccountSnapshot{Cash: b.cash, Positions: make(map[string]int64, len(b.positions))}
	for t, q := range b.positions {
		snap.Positions[t] = q
	}
	b.mu.Unlock()

	snap.Equity = snap.Cash
	for t, q := range snap.Positions {
		if px, err := b.market.GetPrice(ctx, t); err == nil {
			snap.Equity += float64(q) * px
		}
	}
	return snap, nil
}
