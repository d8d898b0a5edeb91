package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errSendBufferFull = errors.New("send buffer full")

// wsTransport adapts a gorilla websocket connection to the registry's
// Transport interface. Writes go through a buffered channel drained by
// a single write pump, so Send is safe from any goroutine.
type wsTransport struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	writeTimeout time.Duration
}

func newWSTransport(ws *websocket.Conn, cfg Config) *wsTransport {
	return &wsTransport{
		id:           uuid.New().String(),
		ws:           ws,
		send:         make(chan []byte, cfg.SendBufferSize),
		closed:       make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
	}
}

// Send enqueues one frame. A full buffer means the client stopped
// reading; the caller treats the error as an implicit close.
func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	default:
	}

	select {
	case t.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Close shuts the socket down. Safe to call multiple times.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.ws.Close()
	})
	return nil
}

// writePump drains the send channel onto the socket. One per
// connection; it exits when the transport closes.
func (t *wsTransport) writePump() {
	defer t.Close()

	for {
		select {
		case <-t.closed:
			return
		case data := <-t.send:
			t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("transport_id", t.id).Msg("write failed")
				return
			}
		}
	}
}

// readPump feeds inbound frames into the hub until the socket closes,
// then hands the close to the hub's disconnect path.
func (t *wsTransport) readPump(ctx context.Context, hub *Hub, sess *Session, cfg Config) {
	defer func() {
		hub.HandleTransportClosed(ctx, sess)
		t.Close()
	}()

	t.ws.SetReadLimit(cfg.MaxMessageSize)
	t.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	t.ws.SetPongHandler(func(string) error {
		t.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		if connID := sess.ConnID(); connID != "" {
			hub.reg.Touch(connID)
		}
		return nil
	})

	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("transport_id", t.id).Msg("unexpected socket close")
			}
			return
		}

		hub.HandleMessage(ctx, sess, data)
		t.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}
