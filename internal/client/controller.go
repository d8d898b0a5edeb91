// Package client implements the reconnection controller a bingo client
// runs per logical game subscription: one live transport at a time,
// heartbeats, exponential-backoff reconnects and in-band token
// rotation.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Status is the controller's externally visible connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	// StatusDisconnected is terminal: either an intentional disconnect
	// or the reconnect budget ran out.
	StatusDisconnected Status = "disconnected"
)

// TokenSource supplies the current bearer token. Implementations that
// rotate credentials call Controller.RefreshToken after rotating.
type TokenSource interface {
	Token() (string, error)
}

// Config holds controller tunables.
type Config struct {
	// URL is the complete websocket endpoint including the game_id
	// query parameter.
	URL          string
	PingInterval time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	WriteTimeout time.Duration
	OnStatus     func(Status)
	OnMessage    func([]byte)
}

// DefaultConfig returns the client defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		PingInterval: 30 * time.Second,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
		WriteTimeout: 5 * time.Second,
	}
}

// BackoffDelay returns the reconnect delay for attempt (1-based):
// min(base * 2^(attempt-1), limit).
func BackoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

// Controller maintains exactly one logical connection to the realtime
// gateway.
type Controller struct {
	cfg    Config
	tokens TokenSource
	clock  clockwork.Clock

	mu          sync.Mutex
	ws          *websocket.Conn
	status      Status
	intentional bool
}

// New creates a controller. Call Run to start it.
func New(cfg Config, tokens TokenSource) *Controller {
	return &Controller{
		cfg:    cfg,
		tokens: tokens,
		clock:  clockwork.NewRealClock(),
		status: StatusDisconnected,
	}
}

// SetClock overrides the clock. Tests only.
func (c *Controller) SetClock(clock clockwork.Clock) {
	c.clock = clock
}

// Status returns the current connection status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run connects and keeps the subscription alive until ctx is cancelled,
// Disconnect is called, or the reconnect budget is exhausted. Each
// successful open resets the attempt counter.
func (c *Controller) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setStatus(StatusConnecting)
		err := c.connectOnce(ctx, func() { attempt = 0 })

		if c.isIntentional() || ctx.Err() != nil {
			c.setStatus(StatusDisconnected)
			return nil
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			c.setStatus(StatusDisconnected)
			return fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxAttempts, err)
		}

		delay := BackoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("connection lost, scheduling reconnect")
		c.setStatus(StatusReconnecting)

		select {
		case <-ctx.Done():
			c.setStatus(StatusDisconnected)
			return nil
		case <-c.clock.After(delay):
		}
	}
}

// connectOnce dials, authenticates and pumps messages until the socket
// closes. onOpen runs once the transport is established.
func (c *Controller) connectOnce(ctx context.Context, onOpen func()) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		ws.Close()
	}()

	onOpen()

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if err := c.writeJSON(map[string]any{"type": "authenticate", "token": token}); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}
	c.setStatus(StatusConnected)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go c.heartbeat(pingCtx)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(data)
		}
	}
}

// heartbeat sends an application-level ping on every interval so the
// server's idle sweeper sees activity.
func (c *Controller) heartbeat(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.writeJSON(map[string]any{"type": "ping"}); err != nil {
				log.Debug().Err(err).Msg("heartbeat failed")
				return
			}
		}
	}
}

// RefreshToken pushes a rotated token over the already-authenticated
// socket so the connection identity persists across rotations.
func (c *Controller) RefreshToken(token string) error {
	return c.writeJSON(map[string]any{"type": "refresh_token", "token": token})
}

// Disconnect performs an intentional shutdown: it announces the reason,
// closes with a normal status code and suppresses reconnection.
func (c *Controller) Disconnect(reason string) error {
	c.mu.Lock()
	c.intentional = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	if err := c.writeJSON(map[string]any{"type": "disconnect", "reason": reason}); err != nil {
		log.Debug().Err(err).Msg("failed to send disconnect message")
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
	return ws.Close()
}

func (c *Controller) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errors.New("not connected")
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) isIntentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentional
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(s)
	}
}
