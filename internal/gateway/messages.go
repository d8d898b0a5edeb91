package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/volchan/vol-bingo-sub000/internal/bingo"
)

// MessageType discriminates wire messages in both directions.
type MessageType string

// Inbound (client → server) message types.
const (
	TypeAuthenticate MessageType = "authenticate"
	TypeRefreshToken MessageType = "refresh_token"
	TypePing         MessageType = "ping"
	TypeMarkCell     MessageType = "mark_cell"
	TypeDisconnect   MessageType = "disconnect"
)

// Outbound (server → client) message types.
const (
	TypeAuthenticated     MessageType = "authenticated"
	TypeError             MessageType = "error"
	TypePlayersListUpdate MessageType = "players_list_update"
	TypeCellMarked        MessageType = "cell_marked"
	TypeBingoAchieved     MessageType = "bingo_achieved"
	TypeGameStateChange   MessageType = "game_state_change"
	TypeTokenRefreshed    MessageType = "token_refreshed"
	TypeStreamGameUpdate  MessageType = "stream_game_update"
	TypeNoStreamGame      MessageType = "no_stream_game"
)

// Inbound is the decoded form of any client → server message. Fields
// not used by the message's type are left zero.
type Inbound struct {
	Type       MessageType `json:"type"`
	Token      string      `json:"token,omitempty"`
	GameCellID string      `json:"gameCellId,omitempty"`
	Marked     bool        `json:"marked,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// ParseInbound decodes one wire frame. A frame that is not a JSON
// object or carries no type is a protocol error.
func ParseInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, fmt.Errorf("unmarshal inbound message: %w", err)
	}
	if msg.Type == "" {
		return Inbound{}, fmt.Errorf("inbound message missing type")
	}
	return msg, nil
}

// AuthenticatedMessage confirms a successful handshake.
type AuthenticatedMessage struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connectionId"`
	UserID       string      `json:"userId"`
}

// NewAuthenticated builds an authenticated frame.
func NewAuthenticated(connectionID, userID string) AuthenticatedMessage {
	return AuthenticatedMessage{Type: TypeAuthenticated, ConnectionID: connectionID, UserID: userID}
}

// ErrorMessage reports a recoverable or terminal failure to one client.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewError builds an error frame.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}

// PlayerInfo is one roster entry in a players-list update.
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Connected   bool   `json:"connected"`
}

// PlayersListUpdateMessage carries the full roster with derived
// presence for a game.
type PlayersListUpdateMessage struct {
	Type      MessageType  `json:"type"`
	GameID    string       `json:"gameId"`
	Players   []PlayerInfo `json:"players"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewPlayersListUpdate builds a players_list_update frame.
func NewPlayersListUpdate(gameID string, players []PlayerInfo) PlayersListUpdateMessage {
	return PlayersListUpdateMessage{
		Type:      TypePlayersListUpdate,
		GameID:    gameID,
		Players:   players,
		Timestamp: time.Now().UTC(),
	}
}

// CellMarkedMessage announces a cell toggle to the whole game.
type CellMarkedMessage struct {
	Type       MessageType `json:"type"`
	GameID     string      `json:"gameId"`
	GameCellID string      `json:"gameCellId"`
	Marked     bool        `json:"marked"`
}

// NewCellMarked builds a cell_marked frame.
func NewCellMarked(gameID, gameCellID string, marked bool) CellMarkedMessage {
	return CellMarkedMessage{Type: TypeCellMarked, GameID: gameID, GameCellID: gameCellID, Marked: marked}
}

// BingoAchievedMessage announces new line completions.
type BingoAchievedMessage struct {
	Type            MessageType          `json:"type"`
	GameID          string               `json:"gameId"`
	BingoPlayers    []bingo.PlayerResult `json:"bingoPlayers"`
	NewBingoPlayers []bingo.PlayerResult `json:"newBingoPlayers"`
	IsMegaBingo     bool                 `json:"isMegaBingo"`
}

// NewBingoAchieved builds a bingo_achieved frame.
func NewBingoAchieved(gameID string, current, delta []bingo.PlayerResult) BingoAchievedMessage {
	return BingoAchievedMessage{
		Type:            TypeBingoAchieved,
		GameID:          gameID,
		BingoPlayers:    current,
		NewBingoPlayers: delta,
		IsMegaBingo:     bingo.AnyMega(current),
	}
}

// GameStateChangeMessage announces a game status transition.
type GameStateChangeMessage struct {
	Type             MessageType `json:"type"`
	GameID           string      `json:"gameId"`
	Status           string      `json:"status"`
	LinkedCellsCount *int        `json:"linkedCellsCount,omitempty"`
}

// NewGameStateChange builds a game_state_change frame.
func NewGameStateChange(gameID, status string, linkedCellsCount *int) GameStateChangeMessage {
	return GameStateChangeMessage{
		Type:             TypeGameStateChange,
		GameID:           gameID,
		Status:           status,
		LinkedCellsCount: linkedCellsCount,
	}
}

// TokenRefreshedMessage acknowledges an in-band credential rotation.
type TokenRefreshedMessage struct {
	Type MessageType `json:"type"`
}

// NewTokenRefreshed builds a token_refreshed frame.
func NewTokenRefreshed() TokenRefreshedMessage {
	return TokenRefreshedMessage{Type: TypeTokenRefreshed}
}

// StreamBoard is the overlay's view of the streamed player board.
type StreamBoard struct {
	BoardID  string            `json:"boardId"`
	GridSize int               `json:"gridSize"`
	Cells    []StreamBoardCell `json:"cells"`
	Result   bingo.Result      `json:"result"`
}

// StreamBoardCell is one positioned cell on the overlay board.
type StreamBoardCell struct {
	Position int  `json:"position"`
	Marked   bool `json:"marked"`
}

// StreamGameUpdateMessage pushes the full overlay state for the game a
// user is currently streaming.
type StreamGameUpdateMessage struct {
	Type        MessageType `json:"type"`
	GameID      string      `json:"gameId"`
	GameTitle   string      `json:"gameTitle"`
	PlayerBoard StreamBoard `json:"playerBoard"`
}

// NewStreamGameUpdate builds a stream_game_update frame.
func NewStreamGameUpdate(gameID, gameTitle string, board StreamBoard) StreamGameUpdateMessage {
	return StreamGameUpdateMessage{
		Type:        TypeStreamGameUpdate,
		GameID:      gameID,
		GameTitle:   gameTitle,
		PlayerBoard: board,
	}
}

// NoStreamGameMessage tells an overlay no game is being streamed.
type NoStreamGameMessage struct {
	Type MessageType `json:"type"`
}

// NewNoStreamGame builds a no_stream_game frame.
func NewNoStreamGame() NoStreamGameMessage {
	return NoStreamGameMessage{Type: TypeNoStreamGame}
}
