package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// SessionState is the handshake state machine. Closed is terminal.
type SessionState int

const (
	StatePending SessionState = iota
	StateAuthenticated
	StateClosed
)

// errAuthFailed is the single error frame sent before closing a socket
// that failed authentication.
const errAuthFailed = "Authentication failed"

// Session is the per-connection protocol state. A session opens in
// Pending, unbound to any user, and is promoted by a successful
// authenticate message. The (gameID, userID) binding never changes
// after promotion; re-authentication only rotates the token context.
type Session struct {
	mu        sync.Mutex
	state     SessionState
	gameID    string
	connID    string
	userID    string
	transport registry.Transport

	// gracefulDone dedupes the explicit disconnect message against the
	// transport's own close event so presence is broadcast once.
	gracefulDone bool
}

// NewSession creates a pending session for a transport bound to gameID.
func NewSession(gameID string, transport registry.Transport) *Session {
	return &Session{
		state:     StatePending,
		gameID:    gameID,
		transport: transport,
	}
}

// State returns the current handshake state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnID returns the registered connection identity, empty while
// pending.
func (s *Session) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// markGraceful flips the graceful-close flag and reports whether this
// caller is the first to handle the close.
func (s *Session) markGraceful() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gracefulDone {
		return false
	}
	s.gracefulDone = true
	return true
}

func (s *Session) promote(connID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAuthenticated
	s.connID = connID
	s.userID = userID
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// HandleMessage dispatches one inbound frame for sess. Protocol errors
// (malformed JSON, unknown types) are logged and ignored; they never
// close the connection.
func (h *Hub) HandleMessage(ctx context.Context, sess *Session, raw []byte) {
	msg, err := ParseInbound(raw)
	if err != nil {
		log.Warn().Err(err).Str("game_id", sess.gameID).Msg("ignoring malformed message")
		return
	}

	// ping is accepted in every state and only refreshes activity.
	if msg.Type == TypePing {
		if connID := sess.ConnID(); connID != "" {
			h.reg.Touch(connID)
		}
		return
	}

	switch sess.State() {
	case StatePending:
		// The first and only valid authenticating message. Everything
		// else is silently ignored while unbound.
		if msg.Type == TypeAuthenticate {
			h.handleAuthenticate(ctx, sess, msg.Token)
		}
	case StateAuthenticated:
		h.reg.Touch(sess.ConnID())
		switch msg.Type {
		case TypeAuthenticate, TypeRefreshToken:
			h.handleTokenRefresh(ctx, sess, msg.Token)
		case TypeMarkCell:
			h.handleMarkCell(ctx, sess, msg)
		case TypeDisconnect:
			h.handleDisconnect(ctx, sess, msg.Reason)
		default:
			log.Warn().
				Str("connection_id", sess.ConnID()).
				Str("type", string(msg.Type)).
				Msg("ignoring unknown message type")
		}
	case StateClosed:
	}
}

// handleAuthenticate runs the Pending → Authenticated transition.
func (h *Hub) handleAuthenticate(ctx context.Context, sess *Session, token string) {
	user, err := h.verifier.VerifyBearer(ctx, token)
	if err != nil {
		// Terminal for the socket: one error frame, then close. The
		// state machine stays Pending until the transport goes away.
		log.Warn().Err(err).Str("game_id", sess.gameID).Msg("authentication failed")
		h.sendDirect(sess, NewError(errAuthFailed))
		sess.transport.Close()
		return
	}

	// Fresh identity per auth attempt; the timestamp keeps repeated
	// attempts from the same transport distinct.
	connID := fmt.Sprintf("%s:%s:%d", sess.gameID, user.ID, time.Now().UnixNano())

	if err := h.reg.Add(connID, sess.gameID, user.ID, sess.transport); err != nil {
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to register connection")
		h.sendDirect(sess, NewError(errAuthFailed))
		sess.transport.Close()
		return
	}

	sess.promote(connID, user.ID)

	log.Info().
		Str("connection_id", connID).
		Str("game_id", sess.gameID).
		Str("user_id", user.ID).
		Msg("connection authenticated")

	h.router.SendTo(connID, NewAuthenticated(connID, user.ID))
	h.presence.SendPlayersList(ctx, sess.gameID, connID)
	h.presence.BroadcastPlayersList(ctx, sess.gameID)
}

// handleTokenRefresh revalidates a rotated token on an already
// authenticated session without re-registering the connection or
// re-broadcasting presence.
func (h *Hub) handleTokenRefresh(ctx context.Context, sess *Session, token string) {
	user, err := h.verifier.VerifyBearer(ctx, token)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", sess.ConnID()).Msg("token refresh failed")
		h.router.SendTo(sess.ConnID(), NewError(errAuthFailed))
		sess.transport.Close()
		return
	}

	sess.mu.Lock()
	sameUser := user.ID == sess.userID
	sess.mu.Unlock()
	if !sameUser {
		// A rotated token must not rebind the connection.
		log.Warn().
			Str("connection_id", sess.ConnID()).
			Str("token_user", user.ID).
			Msg("refresh token bound to a different user")
		h.router.SendTo(sess.ConnID(), NewError(errAuthFailed))
		sess.transport.Close()
		return
	}

	log.Debug().Str("connection_id", sess.ConnID()).Msg("token refreshed")
	h.router.SendTo(sess.ConnID(), NewTokenRefreshed())
}

func (h *Hub) handleMarkCell(ctx context.Context, sess *Session, msg Inbound) {
	if err := h.coordinator.MarkCell(ctx, sess.ConnID(), msg.GameCellID, msg.Marked); err != nil {
		// The registry record may already be gone (idle eviction races
		// the request), so the reply goes over the transport directly.
		h.sendDirect(sess, NewError(err.Error()))
	}
}

// handleDisconnect processes an explicit disconnect message. The
// graceful flag suppresses the duplicate handling that would otherwise
// run when the transport close event arrives.
func (h *Hub) handleDisconnect(ctx context.Context, sess *Session, reason string) {
	log.Info().
		Str("connection_id", sess.ConnID()).
		Str("reason", reason).
		Msg("client requested disconnect")
	h.finishSession(ctx, sess)
	sess.transport.Close()
}

// HandleTransportClosed runs when the socket itself goes away, cleanly
// or not. It is safe to call after an explicit disconnect.
func (h *Hub) HandleTransportClosed(ctx context.Context, sess *Session) {
	h.finishSession(ctx, sess)
}

// finishSession removes the session's connection and broadcasts the
// roster change, exactly once per session.
func (h *Hub) finishSession(ctx context.Context, sess *Session) {
	if !sess.markGraceful() {
		return
	}
	sess.close()

	connID := sess.ConnID()
	if connID == "" {
		// Never authenticated; nothing registered.
		return
	}

	rec, removed := h.reg.Remove(connID)
	if !removed {
		return
	}
	h.presence.BroadcastPlayersList(ctx, rec.GameID)
}

// sendDirect writes to a transport that is not (yet) in the registry.
func (h *Hub) sendDirect(sess *Session, message interface{}) {
	data, err := marshalMessage(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct message")
		return
	}
	if err := sess.transport.Send(data); err != nil {
		log.Warn().Err(err).Str("game_id", sess.gameID).Msg("direct send failed")
	}
}
