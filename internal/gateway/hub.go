package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/auth"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// Hub owns the realtime subsystem for one process: the registry,
// presence coordinator, broadcast router, game coordinator, idle
// sweeper and stream overlay all hang off it. It is constructed once at
// startup and shared by reference into every connection handler.
type Hub struct {
	reg         *registry.Registry
	router      *Router
	presence    *Presence
	coordinator *Coordinator
	verifier    *auth.Verifier
	sweeper     *Sweeper
	overlay     *Overlay
}

// NewHub wires the realtime subsystem together.
func NewHub(cfg Config, verifier *auth.Verifier, games GameStore, cells CellStore, boards BoardStore, streams StreamStore) *Hub {
	reg := registry.New()
	router := NewRouter(reg)
	presence := NewPresence(reg, boards, router)
	coordinator := NewCoordinator(reg, router, games, cells, boards)

	h := &Hub{
		reg:         reg,
		router:      router,
		presence:    presence,
		coordinator: coordinator,
		verifier:    verifier,
	}
	h.sweeper = NewSweeper(reg, presence, cfg.SweepInterval, cfg.IdleTimeout)
	h.overlay = NewOverlay(verifier, streams, boards)
	coordinator.SetOverlayNotifier(h.overlay)
	return h
}

// Start runs the background workers until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("realtime hub started")
	h.sweeper.Run(ctx)
	log.Info().Msg("realtime hub shutting down")
}

// Registry exposes the connection registry for stats and tests.
func (h *Hub) Registry() *registry.Registry {
	return h.reg
}

// Router exposes the broadcast router to sibling subsystems (the
// JetStream event consumer).
func (h *Hub) Router() *Router {
	return h.router
}

// Overlay exposes the stream overlay hub.
func (h *Hub) Overlay() *Overlay {
	return h.overlay
}

// Stats reports connection counters for the stats endpoint.
func (h *Hub) Stats() Stats {
	return Stats{
		TotalConnections:   h.reg.Len(),
		OverlayConnections: h.overlay.Len(),
	}
}

// Stats are the observability counters served on /ws/stats.
type Stats struct {
	TotalConnections   int `json:"total_connections"`
	OverlayConnections int `json:"overlay_connections"`
}

func marshalMessage(message interface{}) ([]byte, error) {
	return json.Marshal(message)
}
