// Package store implements the Postgres repositories the realtime core
// calls into: users, games, game cells and player boards. The gateway
// depends on narrow consumer-side interfaces; this package is the
// production implementation behind them.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlc-dev/pqtype"
	"github.com/volchan/vol-bingo-sub000/internal/auth"
	"github.com/volchan/vol-bingo-sub000/internal/models"
	"github.com/volchan/vol-bingo-sub000/internal/sqlutil"
)

// Store bundles all repositories over one database handle.
type Store struct {
	db *sql.DB
}

// New creates a store over db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindUserByID resolves a token subject to a user identity.
func (s *Store) FindUserByID(ctx context.Context, id string) (*auth.UserIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM users WHERE id = $1`, id)

	var user auth.UserIdentity
	if err := row.Scan(&user.ID, &user.DisplayName); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// FindUserByStreamToken resolves a static overlay display token.
func (s *Store) FindUserByStreamToken(ctx context.Context, token string) (*auth.UserIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM users WHERE stream_token = $1`, token)

	var user auth.UserIdentity
	if err := row.Scan(&user.ID, &user.DisplayName); err != nil {
		return nil, fmt.Errorf("failed to get user by stream token: %w", err)
	}
	return &user, nil
}

// GetGame retrieves a game by ID.
func (s *Store) GetGame(ctx context.Context, id string) (*models.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, creator_id, status, grid_size, template, created_at, updated_at
		 FROM games WHERE id = $1`, id)

	var game models.Game
	var template pqtype.NullRawMessage
	if err := row.Scan(&game.ID, &game.Title, &game.CreatorID, &game.Status,
		&game.GridSize, &template, &game.CreatedAt, &game.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	if template.Valid {
		game.Template = template.RawMessage
	}
	return &game, nil
}

// UpdateGameStatus transitions a game's lifecycle status.
func (s *Store) UpdateGameStatus(ctx context.Context, id string, status models.GameStatus) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE games SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("failed to update game status: %w", err)
	}
	return nil
}

// GetGameCell retrieves a shared game cell by ID.
func (s *Store) GetGameCell(ctx context.Context, id string) (*models.GameCell, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT gc.id, gc.game_id, gc.cell_id, c.label, gc.marked, gc.marked_at, gc.created_at
		 FROM game_cells gc JOIN cells c ON c.id = gc.cell_id
		 WHERE gc.id = $1`, id)

	var cell models.GameCell
	if err := row.Scan(&cell.ID, &cell.GameID, &cell.CellID, &cell.Label,
		&cell.Marked, &cell.MarkedAt, &cell.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to get game cell: %w", err)
	}
	return &cell, nil
}

// MarkGameCell toggles a cell's marked flag and bumps the parent game's
// updated_at in one transaction.
func (s *Store) MarkGameCell(ctx context.Context, id string, marked bool) error {
	err := sqlutil.Run(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE game_cells
			 SET marked = $2, marked_at = CASE WHEN $2 THEN now() ELSE NULL END
			 WHERE id = $1`, id, marked)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sql.ErrNoRows
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE games SET updated_at = now()
			 WHERE id = (SELECT game_id FROM game_cells WHERE id = $1)`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark game cell: %w", err)
	}
	return nil
}

// GetAllPlayerBoardsForGame lists every player board in a game.
func (s *Store) GetAllPlayerBoardsForGame(ctx context.Context, gameID string) ([]models.PlayerBoard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pb.id, pb.game_id, pb.player_id, u.display_name, pb.connected, pb.created_at
		 FROM player_boards pb JOIN users u ON u.id = pb.player_id
		 WHERE pb.game_id = $1
		 ORDER BY pb.created_at`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list player boards: %w", err)
	}
	defer rows.Close()

	var boards []models.PlayerBoard
	for rows.Next() {
		var b models.PlayerBoard
		if err := rows.Scan(&b.ID, &b.GameID, &b.PlayerID, &b.PlayerName,
			&b.Connected, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// GetPlayerBoardCells returns the position→marked projection of one
// board, the input the pattern engine runs over.
func (s *Store) GetPlayerBoardCells(ctx context.Context, boardID string) ([]models.BoardCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bc.position, gc.marked, bc.game_cell_id
		 FROM board_cells bc JOIN game_cells gc ON gc.id = bc.game_cell_id
		 WHERE bc.player_board_id = $1
		 ORDER BY bc.position`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list board cells: %w", err)
	}
	defer rows.Close()

	var cells []models.BoardCell
	for rows.Next() {
		var c models.BoardCell
		if err := rows.Scan(&c.Position, &c.Marked, &c.GameCellID); err != nil {
			return nil, fmt.Errorf("failed to scan board cell: %w", err)
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// SetPlayerConnected persists the derived presence flag.
func (s *Store) SetPlayerConnected(ctx context.Context, gameID, playerID string, connected bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE player_boards SET connected = $3
		 WHERE game_id = $1 AND player_id = $2`, gameID, playerID, connected); err != nil {
		return fmt.Errorf("failed to set player connected: %w", err)
	}
	return nil
}

// GetStreamGameForUser resolves the game a user is currently streaming
// along with their board in it. sql.ErrNoRows maps to (nil, nil, nil):
// streaming nothing is not an error.
func (s *Store) GetStreamGameForUser(ctx context.Context, userID string) (*models.Game, *models.PlayerBoard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT g.id, g.title, g.creator_id, g.status, g.grid_size, g.created_at, g.updated_at,
		        pb.id, pb.game_id, pb.player_id, u.display_name, pb.connected, pb.created_at
		 FROM users u
		 JOIN games g ON g.id = u.stream_game_id
		 JOIN player_boards pb ON pb.game_id = g.id AND pb.player_id = u.id
		 WHERE u.id = $1`, userID)

	var game models.Game
	var board models.PlayerBoard
	err := row.Scan(&game.ID, &game.Title, &game.CreatorID, &game.Status,
		&game.GridSize, &game.CreatedAt, &game.UpdatedAt,
		&board.ID, &board.GameID, &board.PlayerID, &board.PlayerName,
		&board.Connected, &board.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get stream game: %w", err)
	}
	return &game, &board, nil
}

// CountLinkedCells counts how many game cells are linked into player
// boards, reported in game_state_change events.
func (s *Store) CountLinkedCells(ctx context.Context, gameID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count(DISTINCT bc.game_cell_id)
		 FROM board_cells bc
		 JOIN game_cells gc ON gc.id = bc.game_cell_id
		 WHERE gc.game_id = $1`, gameID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count linked cells: %w", err)
	}
	return count, nil
}
