// Package llm implements ports.LLMClient for the OpenAI, DeepSeek, Anthropic
// and Gemini HTTP APIs.
package llm

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

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds configuration for one provider client.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string // overrides the provider default
	RequestsPerMinute float64
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            ports.Logger
}

// dialect is the request and response shape of one provider.
type dialect interface {
	defaultURL() string
	request(baseURL, apiKey, model string, p ports.Prompt) (url string, header http.Header, body interface{})
	completion(data []byte) (string, error)
}

// Client queries one model of one provider.
type Client struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
	dialect  dialect
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   ports.Logger
}

var _ ports.LLMClient = (*Client)(nil)

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for LLM client: %w", ports.ErrConfigurationError)
	}
	var d dialect
	switch cfg.Provider {
	case ProviderOpenAI:
		d = chatCompletions{base: "https://api.openai.com/v1"}
	case ProviderDeepSeek:
		d = chatCompletions{base: "https://api.deepseek.com"}
	case ProviderAnthropic:
		d = messages{}
	case ProviderGemini:
		d = generateContent{}
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: %w", cfg.Provider, ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required: %w", cfg.Provider, ports.ErrConfigurationError)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s model is required: %w", cfg.Provider, ports.ErrConfigurationError)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.defaultURL()
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		provider: cfg.Provider,
		model:    cfg.Model,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		dialect:  d,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), 1),
		logger:   cfg.Logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + cfg.Provider,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !(errors.Is(err, ports.ErrProviderUnavailable) || errors.Is(err, ports.ErrTimeout))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn(context.Background(), "LLM circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return c, nil
}

// Model returns the model name queried by this client.
func (c *Client) Model() string { return c.model }

// Query sends one prompt and returns the completion text.
func (c *Client) Query(ctx context.Context, p ports.Prompt) (string, error) {
	reqID := uuid.NewString()
	fields := map[string]interface{}{"provider": c.provider, "model": c.model, "requestID": reqID}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", c.wrap(err)
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, reqID, p)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%s: %v: %w", c.provider, err, ports.ErrProviderUnavailable)
	}
	if err != nil {
		err = c.wrap(err)
		c.logger.Error(ctx, err, "LLM query failed", fields)
		return "", err
	}
	text := res.(string)
	fields["latencyMs"] = time.Since(start).Milliseconds()
	fields["length"] = len(text)
	c.logger.Debug(ctx, "LLM query completed", fields)
	return text, nil
}

func (c *Client) wrap(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s query: %w: %w", c.provider, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s query canceled: %w: %w", c.provider, ports.ErrContextCanceled, err)
	}
	return fmt.Errorf("%s query: %w", c.provider, err)
}

func (c *Client) roundTrip(ctx context.Context, reqID string, p ports.Prompt) (string, error) {
	url, header, body := c.dialect.request(c.baseURL, c.apiKey, c.model, p)
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %v: %w", err, ports.ErrInvalidRequest)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build request: %v: %w", err, ports.ErrInvalidRequest)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%v: %w", err, ports.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %v: %w", err, ports.ErrProviderUnavailable)
	}
	if resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, raw)
	}
	text, err := c.dialect.completion(raw)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ports.ErrEmptyCompletion
	}
	return text, nil
}

// statusError maps a provider HTTP status onto the standard port errors.
// All four providers report {"error":{"message":...}} bodies.
func statusError(status int, body []byte) error {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	var mapped error
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		mapped = ports.ErrAuthenticationFailed
	case status == http.StatusTooManyRequests:
		mapped = ports.ErrRateLimited
	case status >= 500:
		mapped = ports.ErrProviderUnavailable
	case status >= 400:
		mapped = ports.ErrInvalidRequest
	default:
		mapped = ports.ErrUnknown
	}
	return fmt.Errorf("http %d: %s: %w", status, msg, mapped)
}
