package backtesting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// HistoricalMarket serves daily bars as of a movable clock, so strategies,
// the sizer and the paper brokers never see bars after the simulated time.
type HistoricalMarket struct {
	mu   sync.RWMutex
	bars map[string][]domain.Bar
	now  time.Time
}

var _ ports.MarketData = (*HistoricalMarket)(nil)

// NewHistoricalMarket indexes bars by ticker. The clock starts at the zero
// time; call SetTime before use.
func NewHistoricalMarket(bars []domain.Bar) *HistoricalMarket {
	m := &HistoricalMarket{bars: make(map[string][]domain.Bar)}
	for _, b := range bars {
		b.Ticker = domain.NormalizeTicker(b.Ticker)
		m.bars[b.Ticker] = append(m.bars[b.Ticker], b)
	}
	for _, series := range m.bars {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Time.Before(series[j].Time) })
	}
	return m
}

// SetTime moves the simulated clock.
func (m *HistoricalMarket) SetTime(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Now is the simulated clock.
func (m *HistoricalMarket) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// visible returns the bars of a ticker at or before t.
func (m *HistoricalMarket) visible(ticker string, t time.Time) []domain.Bar {
	series := m.bars[domain.NormalizeTicker(ticker)]
	n := sort.Search(len(series), func(i int) bool { return series[i].Time.After(t) })
	return series[:n]
}

// GetPrice is the close of the latest visible bar.
func (m *HistoricalMarket) GetPrice(ctx context.Context, ticker string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bars := m.visible(ticker, m.now)
	if len(bars) == 0 {
		return 0, fmt.Errorf("%s at %s: %w", ticker, m.now.Format(time.RFC3339), ports.ErrNoPrice)
	}
	return bars[len(bars)-1].Close, nil
}

// GetBars returns up to limit bars ending at end or at the clock, whichever
// is earlier.
func (m *HistoricalMarket) GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if end.IsZero() || end.After(m.now) {
		end = m.now
	}
	bars := m.visible(ticker, end)
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s before %s: %w", ticker, end.Format(time.RFC3339), ports.ErrNotFound)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return append([]domain.Bar(nil), bars...), nil
}

// Tickers lists every ticker with data.
func (m *HistoricalMarket) Tickers() []string {
	out := make([]string, 0, len(m.bars))
	for t := range m.bars {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TradingDays lists the distinct bar dates in [from, to], oldest first.
// Dates are taken from the UTC bar timestamp.
func (m *HistoricalMarket) TradingDays(from, to time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var out []time.Time
	lo, hi := dayOf(from), dayOf(to)
	for _, series := range m.bars {
		for _, b := range series {
			d := dayOf(b.Time)
			if d.Before(lo) || d.After(hi) || seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// BarsOn returns the bar of every ticker dated on day.
func (m *HistoricalMarket) BarsOn(day time.Time) []domain.Bar {
	d := dayOf(day)
	var out []domain.Bar
	for _, t := range m.Tickers() {
		series := m.bars[t]
		i := sort.Search(len(series), func(i int) bool { return !dayOf(series[i].Time).Before(d) })
		if i < len(series) && dayOf(series[i].Time).Equal(d) {
			out = append(out, series[i])
		}
	}
	return out
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
