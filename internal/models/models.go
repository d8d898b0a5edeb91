package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GameStatus defines the lifecycle phase of a bingo game.
type GameStatus string

const (
	GameStatusDraft    GameStatus = "draft"
	GameStatusReady    GameStatus = "ready"
	GameStatusPlaying  GameStatus = "playing"
	GameStatusFinished GameStatus = "finished"
)

// User represents a user in the system.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	StreamToken string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Game represents a bingo game instance. Template holds the JSONB cell
// layout the game was created from.
type Game struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	CreatorID uuid.UUID       `json:"creator_id"`
	Status    GameStatus      `json:"status"`
	GridSize  int             `json:"grid_size"`
	Template  json.RawMessage `json:"template,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GameCell is one cell of a game's shared board. Marking it marks the
// matching position on every player board that linked the same cell.
type GameCell struct {
	ID        uuid.UUID  `json:"id"`
	GameID    uuid.UUID  `json:"game_id"`
	CellID    uuid.UUID  `json:"cell_id"`
	Label     string     `json:"label"`
	Marked    bool       `json:"marked"`
	MarkedAt  *time.Time `json:"marked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PlayerBoard is one player's arrangement of cells for a game.
type PlayerBoard struct {
	ID         uuid.UUID `json:"id"`
	GameID     uuid.UUID `json:"game_id"`
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Connected  bool      `json:"connected"`
	CreatedAt  time.Time `json:"created_at"`
}

// BoardCell is a single position on a player board together with its
// marked state, the projection the pattern engine runs over.
type BoardCell struct {
	Position int  `json:"position"`
	Marked   bool `json:"marked"`
	// GameCellID ties the position back to the shared game cell.
	GameCellID uuid.UUID `json:"game_cell_id"`
}
