package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/auth"
	"github.com/volchan/vol-bingo-sub000/internal/bingo"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// Overlay is the stream-overlay channel: the same wire shapes as the
// player channel but authenticated with a static per-user display token
// and limited to one connection per user. Instead of per-cell deltas it
// pushes the full overlay state whenever the streamed game changes.
type Overlay struct {
	mu    sync.Mutex
	conns map[string]*overlaySession // keyed by user ID

	verifier *auth.Verifier
	streams  StreamStore
	boards   BoardStore
}

type overlaySession struct {
	userID    string
	gameID    string
	transport registry.Transport
}

// NewOverlay creates the overlay hub.
func NewOverlay(verifier *auth.Verifier, streams StreamStore, boards BoardStore) *Overlay {
	return &Overlay{
		conns:    make(map[string]*overlaySession),
		verifier: verifier,
		streams:  streams,
		boards:   boards,
	}
}

// Len returns the number of live overlay connections.
func (o *Overlay) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Authenticate validates a display token and binds the transport as the
// user's single overlay connection, replacing any previous one. The
// initial overlay state is pushed immediately.
func (o *Overlay) Authenticate(ctx context.Context, token string, transport registry.Transport) (string, error) {
	user, err := o.verifier.VerifyDisplayToken(ctx, token)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if prev, exists := o.conns[user.ID]; exists {
		prev.transport.Close()
	}
	sess := &overlaySession{userID: user.ID, transport: transport}
	o.conns[user.ID] = sess
	o.mu.Unlock()

	log.Info().Str("user_id", user.ID).Msg("overlay connected")
	o.push(ctx, sess)
	return user.ID, nil
}

// Disconnect drops the overlay connection bound to transport, if it is
// still the user's current one.
func (o *Overlay) Disconnect(userID string, transport registry.Transport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, exists := o.conns[userID]; exists && sess.transport == transport {
		delete(o.conns, userID)
		log.Info().Str("user_id", userID).Msg("overlay disconnected")
	}
}

// RefreshGame re-pushes overlay state to every user currently streaming
// gameID. The coordinator calls this after each board mutation.
func (o *Overlay) RefreshGame(ctx context.Context, gameID string) {
	o.mu.Lock()
	var targets []*overlaySession
	for _, sess := range o.conns {
		if sess.gameID == gameID {
			targets = append(targets, sess)
		}
	}
	o.mu.Unlock()

	for _, sess := range targets {
		o.push(ctx, sess)
	}
}

// RefreshUser re-pushes overlay state for one user, used when the user
// switches which game they stream.
func (o *Overlay) RefreshUser(ctx context.Context, userID string) {
	o.mu.Lock()
	sess, exists := o.conns[userID]
	o.mu.Unlock()
	if exists {
		o.push(ctx, sess)
	}
}

// push sends the user's current overlay state: either the streamed game
// with the board snapshot or no_stream_game.
func (o *Overlay) push(ctx context.Context, sess *overlaySession) {
	game, board, err := o.streams.GetStreamGameForUser(ctx, sess.userID)
	if err != nil || game == nil || board == nil {
		if err != nil {
			log.Warn().Err(err).Str("user_id", sess.userID).Msg("stream game lookup failed")
		}
		o.setSessionGame(sess, "")
		o.send(sess, NewNoStreamGame())
		return
	}

	cells, err := o.boards.GetPlayerBoardCells(ctx, board.ID.String())
	if err != nil {
		log.Error().Err(err).Str("board_id", board.ID.String()).Msg("failed to load overlay board")
		return
	}

	streamBoard := StreamBoard{
		BoardID:  board.ID.String(),
		GridSize: game.GridSize,
		Cells:    make([]StreamBoardCell, 0, len(cells)),
		Result:   bingo.Detect(cells, game.GridSize),
	}
	for _, c := range cells {
		streamBoard.Cells = append(streamBoard.Cells, StreamBoardCell{
			Position: c.Position,
			Marked:   c.Marked,
		})
	}

	o.setSessionGame(sess, game.ID.String())
	o.send(sess, NewStreamGameUpdate(game.ID.String(), game.Title, streamBoard))
}

func (o *Overlay) setSessionGame(sess *overlaySession, gameID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess.gameID = gameID
}

// send delivers one frame; a transport failure drops the connection.
func (o *Overlay) send(sess *overlaySession, message interface{}) {
	data, err := marshalMessage(message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal overlay message")
		return
	}
	if err := sess.transport.Send(data); err != nil {
		log.Warn().Err(err).Str("user_id", sess.userID).Msg("overlay send failed, dropping connection")
		o.Disconnect(sess.userID, sess.transport)
		sess.transport.Close()
	}
}
