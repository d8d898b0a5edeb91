package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volchan/vol-bingo-sub000/internal/models"
)

func overlayFixture(t *testing.T) (*mockStores, *Hub, string, string) {
	t.Helper()
	stores := newMockStores()
	gameID := uuid.New()
	streamer := uuid.New()

	stores.games[gameID.String()] = &models.Game{
		ID:       gameID,
		Title:    "charity stream bingo",
		Status:   models.GameStatusPlaying,
		GridSize: 3,
	}
	stores.addPlayer(gameID.String(), streamer, "streamer")
	stores.streamTokens["display-abc"] = streamer.String()
	stores.streamGame[streamer.String()] = gameID.String()

	return stores, testHub(t, stores), gameID.String(), streamer.String()
}

func TestOverlayAuthenticateAndPush(t *testing.T) {
	_, hub, gameID, streamer := overlayFixture(t)

	transport := &fakeTransport{}
	userID, err := hub.Overlay().Authenticate(context.Background(), "display-abc", transport)
	require.NoError(t, err)
	assert.Equal(t, streamer, userID)
	assert.Equal(t, 1, hub.Overlay().Len())

	require.Equal(t, []string{string(TypeStreamGameUpdate)}, transport.sentTypes())
	var update StreamGameUpdateMessage
	require.NoError(t, json.Unmarshal(transport.lastFrame(), &update))
	assert.Equal(t, gameID, update.GameID)
	assert.Equal(t, "charity stream bingo", update.GameTitle)
	assert.Equal(t, 3, update.PlayerBoard.GridSize)
}

func TestOverlayRejectsUnknownToken(t *testing.T) {
	_, hub, _, _ := overlayFixture(t)

	transport := &fakeTransport{}
	_, err := hub.Overlay().Authenticate(context.Background(), "bogus", transport)
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Overlay().Len())
}

func TestOverlayNoStreamGame(t *testing.T) {
	stores, hub, _, streamer := overlayFixture(t)
	delete(stores.streamGame, streamer)

	transport := &fakeTransport{}
	_, err := hub.Overlay().Authenticate(context.Background(), "display-abc", transport)
	require.NoError(t, err)

	assert.Equal(t, []string{string(TypeNoStreamGame)}, transport.sentTypes())
}

func TestOverlaySingleConnectionPerUser(t *testing.T) {
	_, hub, _, streamer := overlayFixture(t)

	first := &fakeTransport{}
	_, err := hub.Overlay().Authenticate(context.Background(), "display-abc", first)
	require.NoError(t, err)

	second := &fakeTransport{}
	_, err = hub.Overlay().Authenticate(context.Background(), "display-abc", second)
	require.NoError(t, err)

	// The replacement closes the previous socket; the map stays at one.
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, hub.Overlay().Len())

	// Disconnecting the stale transport must not drop the new one.
	hub.Overlay().Disconnect(streamer, first)
	assert.Equal(t, 1, hub.Overlay().Len())

	hub.Overlay().Disconnect(streamer, second)
	assert.Equal(t, 0, hub.Overlay().Len())
}

func TestOverlayRefreshOnCellMark(t *testing.T) {
	_, hub, gameID, _ := overlayFixture(t)

	transport := &fakeTransport{}
	_, err := hub.Overlay().Authenticate(context.Background(), "display-abc", transport)
	require.NoError(t, err)
	require.Equal(t, 1, transport.countType(TypeStreamGameUpdate))

	hub.Overlay().RefreshGame(context.Background(), gameID)
	assert.Equal(t, 2, transport.countType(TypeStreamGameUpdate))

	// Refreshing another game leaves this overlay untouched.
	hub.Overlay().RefreshGame(context.Background(), uuid.New().String())
	assert.Equal(t, 2, transport.countType(TypeStreamGameUpdate))
}
