package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

type latestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Time  time.Time `json:"t"`
		Price float64   `json:"p"`
		Size  float64   `json:"s"`
	} `json:"trade"`
}

type barsResponse struct {
	Bars []struct {
		Time   time.Time `json:"t"`
		Open   float64   `json:"o"`
		High   float64   `json:"h"`
		Low    float64   `json:"l"`
		Close  float64   `json:"c"`
		Volume float64   `json:"v"`
	} `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}

// GetPrice retrieves the latest trade price for a ticker.
func (c *Client) GetPrice(ctx context.Context, ticker string) (float64, error) {
	op := "GetPrice"
	var out latestTradeResponse
	err := c.do(ctx, request{
		op:       op,
		method:   http.MethodGet,
		url:      fmt.Sprintf("%s/v2/stocks/%s/trades/latest?feed=%s", c.dataURL, url.PathEscape(ticker), c.feed),
		out:      &out,
		notFound: ports.ErrNoPrice,
	})
	if err != nil {
		return 0, err
	}
	if out.Trade.Price <= 0 {
		return 0, c.handleError(ctx, op, fmt.Errorf("%s: %w", ticker, ports.ErrNoPrice))
	}
	return out.Trade.Price, nil
}

// GetBars retrieves up to limit daily bars ending at or before end, oldest
// first. Pages are followed until the window is exhausted.
func (c *Client) GetBars(ctx context.Context, ticker string, end time.Time, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	// Calendar days needed to cover limit trading days, plus holidays.
	start := end.AddDate(0, 0, -(limit*7/5 + 10))

	q := url.Values{}
	q.Set("timeframe", "1Day")
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(10000))
	q.Set("adjustment", "all")
	q.Set("feed", c.feed)
	q.Set("sort", "asc")

	var bars []domain.Bar
	for {
		var out barsResponse
		err := c.do(ctx, request{
			op:       "GetBars",
			method:   http.MethodGet,
			url:      fmt.Sprintf("%s/v2/stocks/%s/bars?%s", c.dataURL, url.PathEscape(ticker), q.Encode()),
			out:      &out,
			notFound: ports.ErrNotFound,
		})
		if err != nil {
			return nil, err
		}
		for _, b := range out.Bars {
			if b.Time.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Ticker: ticker,
				Time:   b.Time,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
		if out.NextPageToken == nil || *out.NextPageToken == "" {
			break
		}
		q.Set("page_token", *out.NextPageToken)
	}

	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
