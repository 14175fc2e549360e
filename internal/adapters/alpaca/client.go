// Package alpaca implements the brokerage and market data ports against the
// Alpaca REST API. One Client serves one brokerage account.
package alpaca

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

const (
	// Base URLs
	baseURLPaper = "https://paper-api.alpaca.markets"
	baseURLData  = "https://data.alpaca.markets"

	defaultRequestsPerMinute = 180
)

// Client implements ports.Broker and ports.MarketData for one account.
type Client struct {
	name       string
	tradingURL string
	dataURL    string
	feed       string
	keyID      string
	secretKey  string
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     ports.Logger
}

// Config holds configuration specific to the Alpaca client adapter.
type Config struct {
	Name              string // account label used in logs and breaker names
	KeyID             string
	SecretKey         string
	TradingURL        string
	DataURL           string
	Feed              string // iex or sip
	RequestsPerMinute float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            ports.Logger
}

var (
	_ ports.Broker     = (*Client)(nil)
	_ ports.MarketData = (*Client)(nil)
)

// New creates a new Alpaca client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Alpaca client: %w", ports.ErrConfigurationError)
	}
	if cfg.KeyID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("alpaca key id and secret are required for %s: %w", cfg.Name, ports.ErrConfigurationError)
	}
	if cfg.TradingURL == "" {
		cfg.TradingURL = baseURLPaper
	}
	if cfg.DataURL == "" {
		cfg.DataURL = baseURLData
	}
	if cfg.Feed == "" {
		cfg.Feed = "iex"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		name:       cfg.Name,
		tradingURL: strings.TrimRight(cfg.TradingURL, "/"),
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		feed:       cfg.Feed,
		keyID:      cfg.KeyID,
		secretKey:  cfg.SecretKey,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 5),
		logger:     cfg.Logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alpaca-" + cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn(context.Background(), "Alpaca circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	cfg.Logger.Info(context.Background(), "Alpaca client configured", map[string]interface{}{
		"account":    cfg.Name,
		"tradingURL": c.tradingURL,
		"feed":       c.feed,
	})
	return c, nil
}

// transient reports errors worth counting against the breaker.
func transient(err error) bool {
	return errors.Is(err, ports.ErrBrokerUnavailable) ||
		errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrTimeout)
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// request describes one REST call. notFound is the sentinel used for a 404.
type request struct {
	op       string
	method   string
	url      string
	body     interface{}
	out      interface{}
	notFound error
	conflict error // sentinel for 422 responses
}

// do runs one call through the rate limiter and circuit breaker and decodes
// the response into req.out.
func (c *Client) do(ctx context.Context, req request) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.handleError(ctx, req.op, err)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%v: %w", err, ports.ErrBrokerUnavailable)
	}
	return c.handleError(ctx, req.op, err)
}

func (c *Client) roundTrip(ctx context.Context, req request) error {
	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request: %v: %w", err, ports.ErrInvalidRequest)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return fmt.Errorf("build request: %v: %w", err, ports.ErrInvalidRequest)
	}
	httpReq.Header.Set("APCA-API-KEY-ID", c.keyID)
	httpReq.Header.Set("APCA-API-SECRET-KEY", c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%v: %w", err, ports.ErrBrokerUnavailable)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %v: %w", err, ports.ErrBrokerUnavailable)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data, req)
	}
	if req.out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, req.out); err != nil {
		return fmt.Errorf("decode response: %v: %w", err, ports.ErrUnknown)
	}
	return nil
}

// statusError maps an Alpaca HTTP status onto the standard port errors.
func statusError(status int, body []byte, req request) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	detail := fmt.Sprintf("http %d code %d: %s", status, apiErr.Code, msg)

	var mapped error
	switch {
	case status == http.StatusUnauthorized:
		mapped = ports.ErrAuthenticationFailed
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(msg), "buying power"):
		mapped = ports.ErrInsufficientFunds
	case status == http.StatusForbidden:
		mapped = ports.ErrAuthenticationFailed
	case status == http.StatusNotFound && req.notFound != nil:
		mapped = req.notFound
	case status == http.StatusUnprocessableEntity && req.conflict != nil:
		mapped = req.conflict
	case status == http.StatusTooManyRequests:
		mapped = ports.ErrRateLimited
	case status >= 500:
		mapped = ports.ErrBrokerUnavailable
	case status >= 400:
		mapped = ports.ErrInvalidRequest
	default:
		mapped = ports.ErrUnknown
	}
	return fmt.Errorf("%s: %w", detail, mapped)
}

// handleError adds operation context, translates context errors and logs
// everything except not-found results.
func (c *Client) handleError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", op, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w", op, err)
	}

	fields := map[string]interface{}{"operation": op, "account": c.name}
	if errors.Is(err, ports.ErrOrderNotFound) || errors.Is(err, ports.ErrNoPrice) || errors.Is(err, ports.ErrNotFound) {
		c.logger.Debug(ctx, op+" found nothing", fields)
	} else {
		c.logger.Error(ctx, err, op+" failed", fields)
	}
	return finalErr
}
