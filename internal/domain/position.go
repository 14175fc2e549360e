package domain

import "time"

// Position is the net holding of one ticker within one portfolio, derived from
// filled orders.
type Position struct {
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Quantity  int64     `json:"quantity"`
	AvgPrice  float64   `json:"avg_price"`
	LastPrice float64   `json:"last_price"`
	OpenedAt  time.Time `json:"opened_at"`
}

// MarketValue is the signed mark-to-market value (negative for shorts).
func (p Position) MarketValue() float64 {
	price := p.LastPrice
	if price == 0 {
		price = p.AvgPrice
	}
	return p.Side.Sign() * float64(p.Quantity) * price
}

// Exposure is the unsigned mark-to-market value.
func (p Position) Exposure() float64 {
	v := p.MarketValue()
	if v < 0 {
		return -v
	}
	return v
}

// UnrealizedPNL at the last mark.
func (p Position) UnrealizedPNL() float64 {
	if p.LastPrice == 0 {
		return 0
	}
	return p.Side.Sign() * (p.LastPrice - p.AvgPrice) * float64(p.Quantity)
}
