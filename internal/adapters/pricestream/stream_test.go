package pricestream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fakeFeed plays the server side of the trade feed handshake and then sends
// trades for whatever was subscribed.
type fakeFeed struct {
	t         *testing.T
	authOK    bool
	conns     int32
	dropFirst bool
}

func (f *fakeFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := atomic.AddInt32(&f.conns, 1)

	conn.WriteJSON([]map[string]interface{}{{"T": "success", "msg": "connected"}})
	var auth action
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	assert.Equal(f.t, "auth", auth.Action)
	if !f.authOK || auth.Key != "key" {
		conn.WriteJSON([]map[string]interface{}{{"T": "error", "code": 402, "msg": "auth failed"}})
		return
	}
	conn.WriteJSON([]map[string]interface{}{{"T": "success", "msg": "authenticated"}})

	var sub action
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	if sub.Action != "subscribe" || len(sub.Trades) == 0 {
		return
	}
	conn.WriteJSON([]map[string]interface{}{{"T": "subscription", "trades": sub.Trades}})

	if f.dropFirst && n == 1 {
		return
	}
	at := time.Date(2024, 6, 10, 14, 30, 0, int(n), time.UTC)
	batch := []map[string]interface{}{}
	for _, tk := range sub.Trades {
		batch = append(batch, map[string]interface{}{"T": "t", "S": tk, "p": 101.25, "s": 100, "t": at.Format(time.RFC3339Nano)})
	}
	batch = append(batch, map[string]interface{}{"T": "q", "S": "IGNORED"})
	conn.WriteJSON(batch)

	// Hold the connection open until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newStream(t *testing.T, srv *httptest.Server, key string) *Stream {
	t.Helper()
	s, err := New(Config{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		KeyID:      key,
		SecretKey:  "secret",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	return s
}

func watched() []string { return []string{"acme", "BETA", "acme"} }

func TestStream_DeliversTrades(t *testing.T) {
	feed := &fakeFeed{t: t, authOK: true}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.MarketUpdate, 8)
	done := make(chan error, 1)
	go func() { done <- newStream(t, srv, "key").Run(ctx, watched, out) }()

	got := map[string]domain.MarketUpdate{}
	for len(got) < 2 {
		select {
		case u := <-out:
			got[u.Ticker] = u
		case <-time.After(5 * time.Second):
			t.Fatal("no trades received")
		}
	}
	assert.Equal(t, 101.25, got["ACME"].Price)
	assert.Equal(t, uint64(got["ACME"].At.UnixNano()), got["ACME"].Seq)
	assert.Contains(t, got, "BETA")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
	_, open := <-out
	assert.False(t, open, "output channel closed on return")
}

func TestStream_Reconnects(t *testing.T) {
	feed := &fakeFeed{t: t, authOK: true, dropFirst: true}
	srv := httptest.NewServer(feed)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan domain.MarketUpdate, 8)
	go newStream(t, srv, "key").Run(ctx, watched, out)

	select {
	case u := <-out:
		assert.Equal(t, 101.25, u.Price)
	case <-time.After(5 * time.Second):
		t.Fatal("no trades after reconnect")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&feed.conns), int32(2))
}

func TestStream_AuthFailureStops(t *testing.T) {
	srv := httptest.NewServer(&fakeFeed{t: t, authOK: false})
	defer srv.Close()

	out := make(chan domain.MarketUpdate)
	err := newStream(t, srv, "bad").Run(context.Background(), watched, out)
	assert.ErrorIs(t, err, ports.ErrAuthenticationFailed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{URL: "ws://x"})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	_, err = New(Config{Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
