package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/indicators"
)

// marketCache memoizes market data for the duration of one cycle, so the
// seven strategies share one read of every ticker.
type marketCache struct {
	inner  ports.MarketData
	prices sync.Map // ticker -> priceEntry
	bars   sync.Map // barsKey -> barsEntry
}

type priceEntry struct {
	price float64
	err   error
}

type barsKey struct {
	ticker string
	end    time.Time
	limit  int
}

type barsEntry struct {
	bars []domain.Bar
	err  error
}

func newMarketCache(inner ports.MarketData) *marketCache {
	return &marketCache{inner: inner}
}

func (c *marketCache) GetPrice(ctx context.Context, ticker string) (float64, error) {
	if v, ok := c.prices.Load(ticker); ok {
		e := v.(priceEntry)
		return e.price, e.err
	}
	px, err := c.inner.GetPrice(ctx, ticker)
	if ctx.Err() == nil {
		c.prices.Store(ticker, priceEntry{price: px, err: err})
	}
	return px, err
}

func (c *marketCache) GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error) {
	key := barsKey{ticker: ticker, end: end, limit: limit}
	if v, ok := c.bars.Load(key); ok {
		e := v.(barsEntry)
		return e.bars, e.err
	}
	bars, err := c.inner.GetBars(ctx, ticker, end, limit)
	if ctx.Err() == nil {
		c.bars.Store(key, barsEntry{bars: bars, err: err})
	}
	return bars, err
}

// quote is the per-ticker market view the sizer and reconciliation use.
type quote struct {
	Price      float64
	Volatility float64
	Last       domain.Bar
	Err        error
}

// snapshot builds quotes for tickers with bounded parallelism. The result is
// never mutated after it is returned.
func snapshot(ctx context.Context, market ports.MarketData, tickers []string, asOf time.Time, lookback, workers int) map[string]quote {
	out := make(map[string]quote, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for _, t := range tickers {
		wg.Add(1)
		sem <- struct{}{}
		go func(ticker string) {
			defer wg.Done()
			defer func() { <-sem }()
			q := quoteFor(ctx, market, ticker, asOf, lookback)
			mu.Lock()
			out[ticker] = q
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return out
}

func quoteFor(ctx context.Context, market ports.MarketData, ticker string, asOf time.Time, lookback int) quote {
	bars, err := market.GetBars(ctx, ticker, asOf, lookback+1)
	if err != nil {
		return quote{Err: fmt.Errorf("bars %s: %w", ticker, err)}
	}
	if len(bars) < 2 {
		return quote{Err: fmt.Errorf("bars %s: %d bars: %w", ticker, len(bars), ports.ErrNoPrice)}
	}

	period := lookback
	if len(bars)-1 < period {
		period = len(bars) - 1
	}
	atr, err := indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: period}}).Calculate(ctx, bars)
	if err != nil {
		return quote{Err: fmt.Errorf("volatility %s: %w", ticker, err)}
	}

	q := quote{Volatility: atr, Last: bars[len(bars)-1]}
	if px, err := market.GetPrice(ctx, ticker); err == nil && px > 0 {
		q.Price = px
	} else {
		q.Price = q.Last.Close
	}
	if q.Price <= 0 {
		q.Err = fmt.Errorf("price %s: %w", ticker, ports.ErrNoPrice)
	}
	return q
}

func marks(quotes map[string]quote) map[string]float64 {
	out := make(map[string]float64, len(quotes))
	for t, q := range quotes {
		if q.Err == nil {
			out[t] = q.Price
		}
	}
	return out
}
