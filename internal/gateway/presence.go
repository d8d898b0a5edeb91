package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// persistTimeout bounds presence writes triggered by registry events.
const persistTimeout = 5 * time.Second

// Presence derives per-user connected status from the registry and
// keeps the persisted flag on the player-board store in sync. The
// persisted flag only changes when the derived value changes: adding a
// second tab or closing one of two does not touch the store.
type Presence struct {
	reg    *registry.Registry
	boards BoardStore
	router *Router
}

// NewPresence creates the coordinator and subscribes it to registry
// structural-change events.
func NewPresence(reg *registry.Registry, boards BoardStore, router *Router) *Presence {
	p := &Presence{reg: reg, boards: boards, router: router}
	reg.Subscribe(p.handleChange)
	return p
}

// handleChange persists the derived value when the registry says the
// mutation flipped it. The flip decision is made inside the registry
// lock; recounting here would race against concurrent registrations
// for the same pair.
func (p *Presence) handleChange(c registry.Change) {
	if !c.PresenceFlipped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	p.persist(ctx, c.Record.GameID, c.Record.UserID, c.Kind == registry.ChangeAdded)
}

func (p *Presence) persist(ctx context.Context, gameID, userID string, connected bool) {
	if err := p.boards.SetPlayerConnected(ctx, gameID, userID, connected); err != nil {
		log.Error().
			Err(err).
			Str("game_id", gameID).
			Str("user_id", userID).
			Bool("connected", connected).
			Msg("failed to persist presence")
		return
	}
	log.Debug().
		Str("game_id", gameID).
		Str("user_id", userID).
		Bool("connected", connected).
		Msg("presence persisted")
}

// PlayersList builds the current roster for gameID with derived
// presence from the registry.
func (p *Presence) PlayersList(ctx context.Context, gameID string) ([]PlayerInfo, error) {
	boards, err := p.boards.GetAllPlayerBoardsForGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load player boards: %w", err)
	}

	players := make([]PlayerInfo, 0, len(boards))
	for _, b := range boards {
		players = append(players, PlayerInfo{
			ID:          b.PlayerID.String(),
			DisplayName: b.PlayerName,
			Connected:   p.reg.HasActive(b.PlayerID.String(), gameID),
		})
	}
	return players, nil
}

// BroadcastPlayersList pushes a fresh roster to every connection in the
// game.
func (p *Presence) BroadcastPlayersList(ctx context.Context, gameID string) {
	players, err := p.PlayersList(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to build players list")
		return
	}
	p.router.BroadcastToGame(gameID, NewPlayersListUpdate(gameID, players), "")
}

// SendPlayersList unicasts the current roster to one connection.
func (p *Presence) SendPlayersList(ctx context.Context, gameID, connID string) {
	players, err := p.PlayersList(ctx, gameID)
	if err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("failed to build players list")
		return
	}
	p.router.SendTo(connID, NewPlayersListUpdate(gameID, players))
}
