// Package pricestream turns the Alpaca real-time trade feed into market
// updates for reconciliation.
package pricestream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Config holds the stream settings.
type Config struct {
	URL              string
	KeyID            string
	SecretKey        string
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	RefreshInterval  time.Duration // how often the watched ticker set is re-read
	HandshakeTimeout time.Duration
	Logger           ports.Logger
}

// Stream is a reconnecting trade subscription.
type Stream struct {
	cfg    Config
	dialer *websocket.Dialer
	logger ports.Logger
}

type message struct {
	Type   string    `json:"T"`
	Symbol string    `json:"S"`
	Price  float64   `json:"p"`
	Size   float64   `json:"s"`
	Time   time.Time `json:"t"`
	Msg    string    `json:"msg"`
	Code   int       `json:"code"`
	Trades []string  `json:"trades"`
}

type action struct {
	Action string   `json:"action"`
	Key    string   `json:"key,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Trades []string `json:"trades,omitempty"`
}

// New creates a stream. Nothing is dialed until Run.
func New(cfg Config) (*Stream, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for price stream: %w", ports.ErrConfigurationError)
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("price stream URL is required: %w", ports.ErrConfigurationError)
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	return &Stream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: cfg.Logger,
	}, nil
}

// Run streams trades for the tickers returned by watched into out until ctx
// is done. The connection is re-established with exponential backoff.
// Run closes out when it returns; it returns nil on shutdown and an error
// only when authentication is refused.
func (s *Stream) Run(ctx context.Context, watched func() []string, out chan<- domain.MarketUpdate) error {
	defer close(out)
	b := &backoff.Backoff{Min: s.cfg.MinBackoff, Max: s.cfg.MaxBackoff, Factor: 2, Jitter: true}

	for {
		connected, err := s.session(ctx, watched, out)
		if ctx.Err() != nil {
			s.logger.Info(ctx, "Price stream stopped.")
			return nil
		}
		if errors.Is(err, ports.ErrAuthenticationFailed) {
			s.logger.Error(ctx, err, "Price stream authentication refused")
			return err
		}
		if connected {
			b.Reset()
		}
		wait := b.Duration()
		s.logger.Warn(ctx, "Price stream disconnected, reconnecting", map[string]interface{}{
			"error":   errString(err),
			"backoff": wait.String(),
			"attempt": b.Attempt(),
		})
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Price stream stopped.")
			return nil
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the subscription
// was established before the session ended.
func (s *Stream) session(ctx context.Context, watched func() []string, out chan<- domain.MarketUpdate) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	if err := s.authenticate(conn); err != nil {
		return false, err
	}

	var wmu sync.Mutex
	write := func(a action) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(a)
	}

	subscribed := make(map[string]bool)
	subscribe := func() error {
		var add []string
		for _, t := range watched() {
			t = domain.NormalizeTicker(t)
			if t != "" && !subscribed[t] {
				subscribed[t] = true
				add = append(add, t)
			}
		}
		if len(add) == 0 {
			return nil
		}
		sort.Strings(add)
		s.logger.Debug(ctx, "Subscribing to trades", map[string]interface{}{"tickers": add})
		return write(action{Action: "subscribe", Trades: add})
	}
	if err := subscribe(); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info(ctx, "Price stream connected", map[string]interface{}{"tickers": len(subscribed)})

	go func() {
		t := time.NewTicker(s.cfg.RefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := subscribe(); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		var batch []message
		if err := conn.ReadJSON(&batch); err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		for _, m := range batch {
			switch m.Type {
			case "t":
				if m.Price <= 0 || m.Symbol == "" {
					continue
				}
				select {
				case out <- domain.NewMarketUpdate(m.Symbol, m.Price, m.Time):
				case <-ctx.Done():
					return true, ctx.Err()
				}
			case "error":
				return true, fmt.Errorf("stream error %d: %s: %w", m.Code, m.Msg, ports.ErrBrokerUnavailable)
			}
		}
	}
}

// authenticate waits for the welcome message, sends credentials and waits
// for the authenticated acknowledgement.
func (s *Stream) authenticate(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := expect(conn, "connected"); err != nil {
		return err
	}
	if err := conn.WriteJSON(action{Action: "auth", Key: s.cfg.KeyID, Secret: s.cfg.SecretKey}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if _, err := expect(conn, "authenticated"); err != nil {
		return err
	}
	return nil
}

func expect(conn *websocket.Conn, msg string) (message, error) {
	var batch []message
	if err := conn.ReadJSON(&batch); err != nil {
		return message{}, fmt.Errorf("waiting for %s: %w", msg, err)
	}
	for _, m := range batch {
		switch {
		case m.Type == "success" && m.Msg == msg:
			return m, nil
		case m.Type == "error" && (m.Code == 401 || m.Code == 402):
			return m, fmt.Errorf("stream error %d: %s: %w", m.Code, m.Msg, ports.ErrAuthenticationFailed)
		case m.Type == "error":
			return m, fmt.Errorf("stream error %d: %s: %w", m.Code, m.Msg, ports.ErrBrokerUnavailable)
		}
	}
	return message{}, fmt.Errorf("unexpected handshake reply while waiting for %s: %w", msg, ports.ErrBrokerUnavailable)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
