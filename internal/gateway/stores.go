package gateway

import (
	"context"

	"github.com/volchan/vol-bingo-sub000/internal/models"
)

// GameStore defines what the gateway needs from the game repository.
type GameStore interface {
	GetGame(ctx context.Context, id string) (*models.Game, error)
}

// CellStore defines what the gateway needs from the game-cell
// repository.
type CellStore interface {
	GetGameCell(ctx context.Context, id string) (*models.GameCell, error)
	MarkGameCell(ctx context.Context, id string, marked bool) error
}

// BoardStore defines what the gateway needs from the player-board
// repository. SetPlayerConnected persists the derived presence flag.
type BoardStore interface {
	GetAllPlayerBoardsForGame(ctx context.Context, gameID string) ([]models.PlayerBoard, error)
	GetPlayerBoardCells(ctx context.Context, boardID string) ([]models.BoardCell, error)
	SetPlayerConnected(ctx context.Context, gameID, playerID string, connected bool) error
}

// StreamStore resolves which game a user is currently streaming, if
// any, for the overlay channel.
type StreamStore interface {
	GetStreamGameForUser(ctx context.Context, userID string) (*models.Game, *models.PlayerBoard, error)
}
