package gateway

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// Router fans typed messages out to game rooms, users or single
// connections. It iterates registry snapshots so evictions triggered by
// send failures cannot corrupt the loop.
type Router struct {
	reg *registry.Registry
}

// NewRouter creates a router over the shared registry.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{reg: reg}
}

// BroadcastToGame sends message to every live connection for gameID,
// skipping excludeUserID when non-empty. A failed send evicts that
// connection without blocking delivery to the rest.
func (r *Router) BroadcastToGame(gameID string, message interface{}, excludeUserID string) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to marshal broadcast message")
		return
	}

	targets := r.reg.ForGame(gameID)
	sent := 0
	for _, rec := range targets {
		if excludeUserID != "" && rec.UserID == excludeUserID {
			continue
		}
		r.deliver(rec, data)
		sent++
	}

	log.Debug().
		Str("game_id", gameID).
		Int("connections", sent).
		Msg("message broadcasted to game")
}

// BroadcastToUser sends message to every connection bound to userID,
// covering multiple tabs and devices.
func (r *Router) BroadcastToUser(userID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to marshal user message")
		return
	}

	targets := r.reg.ForUser(userID)
	for _, rec := range targets {
		r.deliver(rec, data)
	}

	log.Debug().
		Str("user_id", userID).
		Int("connections", len(targets)).
		Msg("message broadcasted to user")
}

// SendTo unicasts message to one connection. It reports whether the
// connection existed and the send succeeded.
func (r *Router) SendTo(connID string, message interface{}) bool {
	rec, ok := r.reg.Get(connID)
	if !ok {
		return false
	}

	data, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to marshal unicast message")
		return false
	}

	return r.deliver(rec, data)
}

// deliver writes data to one connection. A transport failure is an
// implicit close: the connection is evicted and the socket shut.
func (r *Router) deliver(rec registry.Record, data []byte) bool {
	if err := rec.Handle.Send(data); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", rec.ConnID).
			Str("user_id", rec.UserID).
			Msg("send failed, evicting connection")
		r.reg.Remove(rec.ConnID)
		rec.Handle.Close()
		return false
	}
	return true
}
