package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/bingo"
	"github.com/volchan/vol-bingo-sub000/internal/models"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// User-facing mark_cell failures. Anything else surfaced to a client is
// one of these; internal details stay in the log.
var (
	errConnectionNotFound = errors.New("Connection not found")
	errCellNotFound       = errors.New("Cell not found")
	errGameNotFound       = errors.New("Game not found")
	errNotPlaying         = errors.New("Can only mark cells during gameplay")
	errNotCreator         = errors.New("Only the game creator can mark cells")
	errMarkFailed         = errors.New("Failed to mark cell")
)

// OverlayNotifier lets the coordinator refresh stream overlays after a
// board mutation without depending on the overlay hub directly.
type OverlayNotifier interface {
	RefreshGame(ctx context.Context, gameID string)
}

// Coordinator orchestrates cell marking: invariants, the before/after
// bingo computation and the resulting broadcasts.
type Coordinator struct {
	reg     *registry.Registry
	router  *Router
	games   GameStore
	cells   CellStore
	boards  BoardStore
	overlay OverlayNotifier
}

// NewCoordinator wires the coordinator to its collaborators. overlay
// may be nil when no stream channel is running.
func NewCoordinator(reg *registry.Registry, router *Router, games GameStore, cells CellStore, boards BoardStore) *Coordinator {
	return &Coordinator{
		reg:    reg,
		router: router,
		games:  games,
		cells:  cells,
		boards: boards,
	}
}

// SetOverlayNotifier attaches the stream overlay hub.
func (c *Coordinator) SetOverlayNotifier(n OverlayNotifier) {
	c.overlay = n
}

// MarkCell runs the full cell-marking protocol for a request arriving
// on connID. A returned error is user-facing and the caller replies
// with it; persisted state is untouched unless every invariant held.
func (c *Coordinator) MarkCell(ctx context.Context, connID, gameCellID string, marked bool) error {
	rec, ok := c.reg.Get(connID)
	if !ok {
		return errConnectionNotFound
	}

	cell, err := c.cells.GetGameCell(ctx, gameCellID)
	if err != nil {
		log.Warn().Err(err).Str("game_cell_id", gameCellID).Msg("cell lookup failed")
		return errCellNotFound
	}

	game, err := c.games.GetGame(ctx, cell.GameID.String())
	if err != nil {
		log.Warn().Err(err).Str("game_id", cell.GameID.String()).Msg("game lookup failed")
		return errGameNotFound
	}

	if game.Status != models.GameStatusPlaying {
		return errNotPlaying
	}
	if game.CreatorID.String() != rec.UserID {
		return errNotCreator
	}

	// Baseline excludes the cell being toggled so an unmark in the same
	// instant cannot appear to regress a bingo that just existed.
	baseline, err := c.computeResults(ctx, game, gameCellID)
	if err != nil {
		log.Error().Err(err).Str("game_id", game.ID.String()).Msg("failed to compute bingo baseline")
		return errMarkFailed
	}

	if err := c.cells.MarkGameCell(ctx, gameCellID, marked); err != nil {
		log.Error().Err(err).Str("game_cell_id", gameCellID).Msg("failed to persist cell mark")
		return errMarkFailed
	}

	gameID := game.ID.String()
	c.router.BroadcastToGame(gameID, NewCellMarked(gameID, gameCellID, marked), "")

	if marked {
		current, err := c.computeResults(ctx, game, "")
		if err != nil {
			// The mark is persisted and announced; detection failure
			// only costs the celebration.
			log.Error().Err(err).Str("game_id", gameID).Msg("failed to compute bingo results")
			return nil
		}

		if delta := bingo.NewlyAchieved(baseline, current); len(delta) > 0 {
			winners := withBingo(current)
			c.router.BroadcastToGame(gameID, NewBingoAchieved(gameID, winners, delta), "")
			log.Info().
				Str("game_id", gameID).
				Int("new_bingos", len(delta)).
				Bool("mega", bingo.AnyMega(current)).
				Msg("bingo achieved")
		}
	}

	if c.overlay != nil {
		c.overlay.RefreshGame(ctx, gameID)
	}
	return nil
}

// computeResults runs detection over every player board for game.
// When excludeGameCellID is set, positions linked to that cell are
// treated as unmarked, which is how the pre-mark baseline is built
// without a second snapshot round trip.
func (c *Coordinator) computeResults(ctx context.Context, game *models.Game, excludeGameCellID string) ([]bingo.PlayerResult, error) {
	boards, err := c.boards.GetAllPlayerBoardsForGame(ctx, game.ID.String())
	if err != nil {
		return nil, fmt.Errorf("load player boards: %w", err)
	}

	results := make([]bingo.PlayerResult, 0, len(boards))
	for _, board := range boards {
		cells, err := c.boards.GetPlayerBoardCells(ctx, board.ID.String())
		if err != nil {
			return nil, fmt.Errorf("load cells for board %s: %w", board.ID, err)
		}

		if excludeGameCellID != "" {
			filtered := cells[:0]
			for _, cell := range cells {
				if cell.GameCellID.String() != excludeGameCellID {
					filtered = append(filtered, cell)
				}
			}
			cells = filtered
		}

		res := bingo.Detect(cells, game.GridSize)
		results = append(results, bingo.PlayerResult{
			PlayerID:    board.PlayerID.String(),
			BoardID:     board.ID.String(),
			PlayerName:  board.PlayerName,
			BingoCount:  res.BingoCount,
			IsMegaBingo: res.IsMegaBingo,
		})
	}
	return results, nil
}

// withBingo filters results down to players holding at least one line.
func withBingo(results []bingo.PlayerResult) []bingo.PlayerResult {
	var out []bingo.PlayerResult
	for _, r := range results {
		if r.BingoCount > 0 || r.IsMegaBingo {
			out = append(out, r)
		}
	}
	return out
}
