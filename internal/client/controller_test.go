package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	limit := 30 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{7, 30 * time.Second},
		{100, 30 * time.Second},
		{0, time.Second}, // clamped to the first attempt
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BackoffDelay(base, limit, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffDelayMonotonic(t *testing.T) {
	base := 1000 * time.Millisecond
	limit := 30000 * time.Millisecond

	// Three consecutive abnormal closes: 1000, 2000, 4000 ms.
	delays := []time.Duration{
		BackoffDelay(base, limit, 1),
		BackoffDelay(base, limit, 2),
		BackoffDelay(base, limit, 3),
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)

	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

type staticTokens struct{ token string }

func (s staticTokens) Token() (string, error) { return s.token, nil }

func TestControllerInitialState(t *testing.T) {
	c := New(DefaultConfig("ws://localhost:8080/ws?game_id=g1"), staticTokens{token: "tok"})
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestDisconnectWithoutConnection(t *testing.T) {
	c := New(DefaultConfig("ws://localhost:8080/ws?game_id=g1"), staticTokens{token: "tok"})

	// Intentional disconnect before any dial is a no-op but still
	// suppresses future reconnects.
	assert.NoError(t, c.Disconnect("logout"))
	assert.True(t, c.isIntentional())
}

func TestRefreshTokenRequiresConnection(t *testing.T) {
	c := New(DefaultConfig("ws://localhost:8080/ws?game_id=g1"), staticTokens{token: "tok"})
	assert.Error(t, c.RefreshToken("rotated"))
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	// Grab a port nobody listens on so every dial fails immediately.
	srv := httptest.NewServer(http.NotFoundHandler())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?game_id=g1"
	srv.Close()

	cfg := DefaultConfig(wsURL)
	cfg.MaxAttempts = 3

	var mu sync.Mutex
	var statuses []Status
	cfg.OnStatus = func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}

	c := New(cfg, staticTokens{token: "tok"})
	clock := clockwork.NewFakeClockAt(time.Now())
	c.SetClock(clock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Each failed attempt parks the loop on the backoff timer; release
	// it with the scheduled delay until the budget runs out.
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(BackoffDelay(cfg.BaseDelay, cfg.MaxDelay, attempt))
	}

	select {
	case err := <-done:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("controller never gave up")
	}
	assert.Equal(t, StatusDisconnected, c.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, statuses, StatusConnecting)
	assert.Contains(t, statuses, StatusReconnecting)
	assert.Equal(t, StatusDisconnected, statuses[len(statuses)-1])
}

func TestRunAuthenticatesAndStopsOnDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan []byte, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?game_id=g1"
	c := New(DefaultConfig(wsURL), staticTokens{token: "tok-123"})
	c.SetClock(clockwork.NewFakeClockAt(time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// First frame on the wire is the authenticate message.
	select {
	case frame := <-frames:
		var msg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.Equal(t, "authenticate", msg.Type)
		assert.Equal(t, "tok-123", msg.Token)
	case <-ctx.Done():
		t.Fatal("no authenticate frame received")
	}

	require.Eventually(t, func() bool { return c.Status() == StatusConnected },
		5*time.Second, 10*time.Millisecond)

	// An intentional disconnect must not trigger a reconnect.
	require.NoError(t, c.Disconnect("test over"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("controller kept running after disconnect")
	}
	assert.Equal(t, StatusDisconnected, c.Status())
}
