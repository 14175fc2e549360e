package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Status         string           `json:"status"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type accountResponse struct {
	Cash   decimal.Decimal `json:"cash"`
	Equity decimal.Decimal `json:"equity"`
	Status string          `json:"status"`
}

type positionResponse struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	Side   string          `json:"side"`
}

// SubmitOrder places a day market order. A missing client order ID is
// generated so that the request stays idempotent on Alpaca's side.
func (c *Client) SubmitOrder(ctx context.Context, req ports.BrokerOrderRequest) (string, error) {
	op := "SubmitOrder"
	if req.Quantity <= 0 || req.Ticker == "" {
		return "", c.handleError(ctx, op, fmt.Errorf("order %+v: %w", req, ports.ErrInvalidRequest))
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	body := orderRequest{
		Symbol:        req.Ticker,
		Qty:           decimal.NewFromInt(req.Quantity).String(),
		Side:          string(req.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: req.ClientOrderID,
	}
	var out orderResponse
	err := c.do(ctx, request{
		op:       op,
		method:   http.MethodPost,
		url:      c.tradingURL + "/v2/orders",
		body:     body,
		out:      &out,
		conflict: ports.ErrOrderPlacementFailed,
	})
	if err != nil {
		return "", err
	}
	c.logger.Info(ctx, "Order submitted to Alpaca", map[string]interface{}{
		"account":       c.name,
		"ticker":        req.Ticker,
		"side":          req.Side,
		"qty":           req.Quantity,
		"brokerOrderID": out.ID,
		"status":        out.Status,
	})
	return out.ID, nil
}

// GetOrderStatus retrieves the current status of an order.
func (c *Client) GetOrderStatus(ctx context.Context, brokerOrderID string) (ports.BrokerOrderStatus, error) {
	var out orderResponse
	err := c.do(ctx, request{
		op:       "GetOrderStatus",
		method:   http.MethodGet,
		url:      c.tradingURL + "/v2/orders/" + url.PathEscape(brokerOrderID),
		out:      &out,
		notFound: ports.ErrOrderNotFound,
	})
	if err != nil {
		return ports.BrokerOrderStatus{}, err
	}
	st := ports.BrokerOrderStatus{
		ID:             out.ID,
		ClientOrderID:  out.ClientOrderID,
		Status:         normalizeStatus(out.Status),
		FilledQuantity: out.FilledQty.IntPart(),
		UpdatedAt:      out.UpdatedAt,
	}
	if out.FilledAvgPrice != nil {
		st.FilledAvgPrice = out.FilledAvgPrice.InexactFloat64()
	}
	return st, nil
}

// normalizeStatus folds Alpaca's order statuses onto the port vocabulary.
func normalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "new", "accepted_for_bidding", "calculated", "held":
		return ports.BrokerStatusNew
	case "pending_new":
		return ports.BrokerStatusPending
	case "accepted":
		return ports.BrokerStatusAccepted
	case "partially_filled":
		return ports.BrokerStatusPartial
	case "filled":
		return ports.BrokerStatusFilled
	case "canceled", "pending_cancel", "done_for_day", "replaced", "pending_replace", "stopped", "suspended":
		return ports.BrokerStatusCanceled
	case "expired":
		return ports.BrokerStatusExpired
	case "rejected":
		return ports.BrokerStatusRejected
	default:
		return strings.ToLower(s)
	}
}

// CancelOrder cancels an order that has not filled yet.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return c.do(ctx, request{
		op:       "CancelOrder",
		method:   http.MethodDelete,
		url:      c.tradingURL + "/v2/orders/" + url.PathEscape(brokerOrderID),
		notFound: ports.ErrOrderNotFound,
		conflict: ports.ErrOrderCancelFailed,
	})
}

// GetAccountSnapshot retrieves cash, equity and signed positions.
func (c *Client) GetAccountSnapshot(ctx context.Context) (ports.AccountSnapshot, error) {
	var acct accountResponse
	if err := c.do(ctx, request{op: "GetAccount", method: http.MethodGet, url: c.tradingURL + "/v2/account", out: &acct}); err != nil {
		return ports.AccountSnapshot{}, err
	}
	var positions []positionResponse
	if err := c.do(ctx, request{op: "GetPositions", method: http.MethodGet, url: c.tradingURL + "/v2/positions", out: &positions}); err != nil {
		return ports.AccountSnapshot{}, err
	}

	snap := ports.AccountSnapshot{
		Cash:      acct.Cash.InexactFloat64(),
		Equity:    acct.Equity.InexactFloat64(),
		Positions: make(map[string]int64, len(positions)),
	}
	for _, p := range positions {
		qty := p.Qty.IntPart()
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		snap.Positions[p.Symbol] = qty
	}
	return snap, nil
}
