package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/volchan/vol-bingo-sub000/internal/auth"
	"github.com/volchan/vol-bingo-sub000/internal/models"
)

var testSecret = []byte("test-secret")

// fakeTransport collects sent frames in memory.
type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// sentTypes returns the type discriminator of every sent frame in
// order.
func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var types []string
	for _, frame := range f.frames {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &msg); err == nil {
			types = append(types, msg.Type)
		}
	}
	return types
}

func (f *fakeTransport) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func (f *fakeTransport) countType(t MessageType) int {
	count := 0
	for _, typ := range f.sentTypes() {
		if typ == string(t) {
			count++
		}
	}
	return count
}

// mockStores backs every collaborator interface with in-memory maps.
type mockStores struct {
	mu           sync.Mutex
	users        map[string]auth.UserIdentity
	streamTokens map[string]string // token -> user ID
	games        map[string]*models.Game
	cells        map[string]*models.GameCell
	boards       map[string][]models.PlayerBoard // game ID -> boards
	boardCells   map[string][]models.BoardCell   // board ID -> cells
	connected    map[string]bool                 // gameID/playerID -> flag
	persistCalls int
	streamGame   map[string]string // user ID -> game ID being streamed
}

func newMockStores() *mockStores {
	return &mockStores{
		users:        make(map[string]auth.UserIdentity),
		streamTokens: make(map[string]string),
		games:        make(map[string]*models.Game),
		cells:        make(map[string]*models.GameCell),
		boards:       make(map[string][]models.PlayerBoard),
		boardCells:   make(map[string][]models.BoardCell),
		connected:    make(map[string]bool),
		streamGame:   make(map[string]string),
	}
}

func (m *mockStores) FindUserByID(ctx context.Context, id string) (*auth.UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		return &user, nil
	}
	return nil, errors.New("user not found")
}

func (m *mockStores) FindUserByStreamToken(ctx context.Context, token string) (*auth.UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.streamTokens[token]; ok {
		user := m.users[id]
		return &user, nil
	}
	return nil, errors.New("unknown display token")
}

func (m *mockStores) GetGame(ctx context.Context, id string) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if game, ok := m.games[id]; ok {
		copied := *game
		return &copied, nil
	}
	return nil, errors.New("game not found")
}

func (m *mockStores) GetGameCell(ctx context.Context, id string) (*models.GameCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, ok := m.cells[id]; ok {
		copied := *cell
		return &copied, nil
	}
	return nil, errors.New("cell not found")
}

func (m *mockStores) MarkGameCell(ctx context.Context, id string, marked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.cells[id]
	if !ok {
		return errors.New("cell not found")
	}
	cell.Marked = marked
	for boardID, cells := range m.boardCells {
		for i := range cells {
			if cells[i].GameCellID == cell.ID {
				cells[i].Marked = marked
			}
		}
		m.boardCells[boardID] = cells
	}
	return nil
}

func (m *mockStores) GetAllPlayerBoardsForGame(ctx context.Context, gameID string) ([]models.PlayerBoard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PlayerBoard(nil), m.boards[gameID]...), nil
}

func (m *mockStores) GetPlayerBoardCells(ctx context.Context, boardID string) ([]models.BoardCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BoardCell(nil), m.boardCells[boardID]...), nil
}

func (m *mockStores) SetPlayerConnected(ctx context.Context, gameID, playerID string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[gameID+"/"+playerID] = connected
	m.persistCalls++
	return nil
}

func (m *mockStores) GetStreamGameForUser(ctx context.Context, userID string) (*models.Game, *models.PlayerBoard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gameID, ok := m.streamGame[userID]
	if !ok {
		return nil, nil, nil
	}
	game := *m.games[gameID]
	for _, board := range m.boards[gameID] {
		if board.PlayerID.String() == userID {
			copied := board
			return &game, &copied, nil
		}
	}
	return nil, nil, nil
}

func (m *mockStores) isConnected(gameID, playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[gameID+"/"+playerID]
}

func (m *mockStores) persistCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistCalls
}

// addPlayer registers a user and a board for them in the game.
func (m *mockStores) addPlayer(gameID string, playerID uuid.UUID, name string) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[playerID.String()] = auth.UserIdentity{ID: playerID.String(), DisplayName: name}
	boardID := uuid.New()
	m.boards[gameID] = append(m.boards[gameID], models.PlayerBoard{
		ID:         boardID,
		GameID:     uuid.MustParse(gameID),
		PlayerID:   playerID,
		PlayerName: name,
	})
	return boardID
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func signExpiredToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

// testHub builds a hub over mock stores.
func testHub(t *testing.T, stores *mockStores) *Hub {
	t.Helper()
	verifier := auth.NewVerifier(testSecret, stores)
	return NewHub(DefaultConfig(), verifier, stores, stores, stores, stores)
}

func authFrame(token string) []byte {
	return []byte(fmt.Sprintf(`{"type":"authenticate","token":%q}`, token))
}

// authenticate runs a full handshake and returns the promoted session.
func authenticate(t *testing.T, hub *Hub, stores *mockStores, gameID string, userID uuid.UUID) (*Session, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	sess := NewSession(gameID, transport)
	hub.HandleMessage(context.Background(), sess, authFrame(signToken(t, userID.String())))
	require.Equal(t, StateAuthenticated, sess.State())
	return sess, transport
}
