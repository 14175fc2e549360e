package ports

import (
	"context"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

// BrokerOrderRequest is a market order sent across the brokerage boundary.
type BrokerOrderRequest struct {
	ClientOrderID string
	Ticker        string
	Side          domain.Side
	Quantity      int64
}

// BrokerOrderStatus is the broker-side view of an order.
type BrokerOrderStatus struct {
	ID             string
	ClientOrderID  string
	Status         string // new, accepted, partially_filled, filled, canceled, expired, rejected
	FilledQuantity int64
	FilledAvgPrice float64
	UpdatedAt      time.Time
}

// Broker status values normalized by adapters.
const (
	BrokerStatusNew      = "new"
	BrokerStatusPartial  = "partially_filled"
	BrokerStatusFilled   = "filled"
	BrokerStatusCanceled = "canceled"
	BrokerStatusExpired  = "expired"
	BrokerStatusRejected = "rejected"
	BrokerStatusAccepted = "accepted"
	BrokerStatusPending  = "pending_new"
)

// AccountSnapshot is the broker's view of one portfolio account.
type AccountSnapshot struct {
	Cash      float64
	Equity    float64
	Positions map[string]int64 // signed share counts
}

// Broker is one connection to one strategy's brokerage account.
// The core never assumes fills are synchronous.
type Broker interface {
	// SubmitOrder places a market order and returns the broker order ID.
	SubmitOrder(ctx context.Context, req BrokerOrderRequest) (string, error)

	// GetOrderStatus retrieves the current status of an order.
	GetOrderStatus(ctx context.Context, brokerOrderID string) (BrokerOrderStatus, error)

	// CancelOrder cancels an order that has not filled yet.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// GetPrice retrieves the latest trade price for a ticker.
	GetPrice(ctx context.Context, ticker string) (float64, error)

	// GetAccountSnapshot retrieves cash and positions of the account.
	GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
}

// MarketData provides prices and historical daily bars.
type MarketData interface {
	// GetPrice retrieves the latest trade price for a ticker.
	GetPrice(ctx context.Context, ticker string) (float64, error)

	// GetBars retrieves up to limit daily bars ending at or before end, oldest first.
	GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error)
}
