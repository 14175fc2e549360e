package domain

import "time"

// Bar is one daily OHLCV candle.
type Bar struct {
	Ticker string    `json:"ticker"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketUpdate is a price observation used for reconciliation. Seq is
// monotonic per ticker; the observation timestamp in nanoseconds is used.
// High and Low are set when the update summarizes a range (a daily bar), so
// a gap through both protective levels can be detected.
type MarketUpdate struct {
	Ticker string
	Price  float64
	High   float64
	Low    float64
	Seq    uint64
	At     time.Time
}

// Range returns the low and high covered by the update.
func (u MarketUpdate) Range() (low, high float64) {
	low, high = u.Price, u.Price
	if u.Low > 0 && u.Low < low {
		low = u.Low
	}
	if u.High > high {
		high = u.High
	}
	return low, high
}

// NewMarketUpdate stamps an update with a timestamp-derived sequence number.
func NewMarketUpdate(ticker string, price float64, at time.Time) MarketUpdate {
	return MarketUpdate{Ticker: ticker, Price: price, Seq: uint64(at.UnixNano()), At: at}
}

// BarUpdate turns a daily bar into a range update stamped at the bar time.
func BarUpdate(b Bar) MarketUpdate {
	u := NewMarketUpdate(b.Ticker, b.Close, b.Time)
	u.High, u.Low = b.High, b.Low
	return u
}
