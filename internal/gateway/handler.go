package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler upgrades HTTP requests onto the two realtime channels: the
// player channel at /ws and the stream overlay at /ws/stream.
type Handler struct {
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket HTTP handler.
func NewHandler(hub *Hub, cfg Config) *Handler {
	return &Handler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// HandleGameConnection upgrades a player socket for one game. The
// connection starts unauthenticated; the first authenticate frame binds
// it to a user.
func (h *Handler) HandleGameConnection(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	if gameID == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	transport := newWSTransport(ws, h.cfg)
	sess := NewSession(gameID, transport)

	log.Info().
		Str("transport_id", transport.id).
		Str("game_id", gameID).
		Msg("socket opened, awaiting authentication")

	go transport.writePump()
	go transport.readPump(context.Background(), h.hub, sess, h.cfg)
}

// HandleStreamConnection upgrades an overlay socket. Overlay clients
// authenticate with a static display token passed as a query parameter
// and receive stream_game_update pushes instead of per-cell deltas.
func (h *Handler) HandleStreamConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade overlay connection")
		return
	}

	transport := newWSTransport(ws, h.cfg)
	go transport.writePump()

	ctx := context.Background()
	userID, err := h.hub.overlay.Authenticate(ctx, token, transport)
	if err != nil {
		data, _ := marshalMessage(NewError(errAuthFailed))
		transport.Send(data)
		transport.Close()
		return
	}

	go h.overlayReadPump(ctx, transport, userID)
}

// overlayReadPump keeps the overlay socket alive and tears the session
// down when it closes. Overlay clients send nothing but pings.
func (h *Handler) overlayReadPump(ctx context.Context, t *wsTransport, userID string) {
	defer func() {
		h.hub.overlay.Disconnect(userID, t)
		t.Close()
	}()

	t.ws.SetReadLimit(h.cfg.MaxMessageSize)
	for {
		if _, _, err := t.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleStats serves connection counters as JSON.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.hub.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers the realtime routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleGameConnection)
	mux.HandleFunc("/ws/stream", h.HandleStreamConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	log.Info().Msg("realtime routes registered")
}
