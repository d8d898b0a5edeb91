package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

func TestBroadcastToGame(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	t1, t2, t3 := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	require.NoError(t, reg.Add("c1", "g1", "u1", t1))
	require.NoError(t, reg.Add("c2", "g1", "u2", t2))
	require.NoError(t, reg.Add("c3", "g2", "u3", t3))

	router.BroadcastToGame("g1", NewCellMarked("g1", "cell", true), "")

	assert.Equal(t, 1, t1.countType(TypeCellMarked))
	assert.Equal(t, 1, t2.countType(TypeCellMarked))
	assert.Equal(t, 0, t3.countType(TypeCellMarked), "no cross-game delivery")
}

func TestBroadcastToGameExcludesUser(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	t1, t2 := &fakeTransport{}, &fakeTransport{}
	require.NoError(t, reg.Add("c1", "g1", "u1", t1))
	require.NoError(t, reg.Add("c2", "g1", "u2", t2))

	router.BroadcastToGame("g1", NewTokenRefreshed(), "u1")

	assert.Equal(t, 0, t1.countType(TypeTokenRefreshed))
	assert.Equal(t, 1, t2.countType(TypeTokenRefreshed))
}

func TestBroadcastEvictsFailedConnections(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	dead := &fakeTransport{sendErr: errors.New("broken pipe")}
	alive := &fakeTransport{}
	require.NoError(t, reg.Add("dead", "g1", "u1", dead))
	require.NoError(t, reg.Add("alive", "g1", "u2", alive))

	router.BroadcastToGame("g1", NewTokenRefreshed(), "")

	// The failed connection is treated as an implicit close without
	// blocking delivery to the healthy one.
	assert.Equal(t, 1, alive.countType(TypeTokenRefreshed))
	_, exists := reg.Get("dead")
	assert.False(t, exists)
	assert.True(t, dead.isClosed())
	assert.Equal(t, 1, reg.Len())
}

func TestBroadcastToUserCoversAllTabs(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	tab1, tab2, other := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	require.NoError(t, reg.Add("c1", "g1", "u1", tab1))
	require.NoError(t, reg.Add("c2", "g2", "u1", tab2))
	require.NoError(t, reg.Add("c3", "g1", "u2", other))

	router.BroadcastToUser("u1", NewTokenRefreshed())

	assert.Equal(t, 1, tab1.countType(TypeTokenRefreshed))
	assert.Equal(t, 1, tab2.countType(TypeTokenRefreshed))
	assert.Equal(t, 0, other.countType(TypeTokenRefreshed))
}

func TestSendTo(t *testing.T) {
	reg := registry.New()
	router := NewRouter(reg)

	transport := &fakeTransport{}
	require.NoError(t, reg.Add("c1", "g1", "u1", transport))

	assert.True(t, router.SendTo("c1", NewTokenRefreshed()))
	assert.Equal(t, 1, transport.countType(TypeTokenRefreshed))

	assert.False(t, router.SendTo("missing", NewTokenRefreshed()))
}
