// Package registry keeps the in-memory index of live realtime
// connections. It is the single owner of connection records; every
// other component queries it rather than keeping its own maps.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Transport is the send side of one socket. The gateway's websocket
// connection satisfies it; tests use in-memory fakes.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Record is one registered connection. GameID and UserID are fixed for
// the record's lifetime; re-authentication creates a new record.
type Record struct {
	ConnID       string
	GameID       string
	UserID       string
	Handle       Transport
	ConnectedAt  time.Time
	LastActivity time.Time
}

// ChangeKind discriminates structural-change events.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// Change is emitted after every successful mutation. Consumers (the
// presence coordinator, sweeper stats) receive it outside the lock.
type Change struct {
	Kind   ChangeKind
	Record Record
	// PresenceFlipped reports whether this mutation changed the derived
	// presence value for the record's (user, game) pair: the first add
	// and the last remove. It is decided while the mutation still holds
	// the registry lock, so overlapping mutations for the same pair
	// cannot both observe an unflipped state.
	PresenceFlipped bool
}

// Listener receives structural-change events.
type Listener func(Change)

// Registry is a mutex-guarded bidirectional index between connections
// and their (game, user) bindings. All mutations are atomic with
// respect to concurrent handler invocations.
type Registry struct {
	mu       sync.Mutex
	byConnID map[string]*Record
	byHandle map[Transport]string

	listenerMu sync.RWMutex
	listeners  []Listener

	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byConnID: make(map[string]*Record),
		byHandle: make(map[Transport]string),
		now:      time.Now,
	}
}

// Subscribe registers a listener for structural-change events.
func (r *Registry) Subscribe(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) emit(c Change) {
	r.listenerMu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}

// Add registers a new connection. It fails if connID is already present
// or the transport handle is already bound to another record.
func (r *Registry) Add(connID, gameID, userID string, handle Transport) error {
	r.mu.Lock()
	if _, exists := r.byConnID[connID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("connection %s already registered", connID)
	}
	if _, exists := r.byHandle[handle]; exists {
		r.mu.Unlock()
		return fmt.Errorf("transport already bound to a connection")
	}

	flipped := !r.hasActiveLocked(userID, gameID)

	now := r.now()
	rec := &Record{
		ConnID:       connID,
		GameID:       gameID,
		UserID:       userID,
		Handle:       handle,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.byConnID[connID] = rec
	r.byHandle[handle] = connID
	snapshot := *rec
	r.mu.Unlock()

	log.Debug().
		Str("connection_id", connID).
		Str("game_id", gameID).
		Str("user_id", userID).
		Msg("connection registered")

	r.emit(Change{Kind: ChangeAdded, Record: snapshot, PresenceFlipped: flipped})
	return nil
}

// Remove deletes a connection by ID. It is idempotent; removing an
// absent connection is a no-op and emits no event.
func (r *Registry) Remove(connID string) (Record, bool) {
	r.mu.Lock()
	rec, exists := r.byConnID[connID]
	if !exists {
		r.mu.Unlock()
		return Record{}, false
	}
	delete(r.byConnID, connID)
	delete(r.byHandle, rec.Handle)
	snapshot := *rec
	flipped := !r.hasActiveLocked(rec.UserID, rec.GameID)
	r.mu.Unlock()

	log.Debug().
		Str("connection_id", connID).
		Str("game_id", snapshot.GameID).
		Str("user_id", snapshot.UserID).
		Msg("connection removed")

	r.emit(Change{Kind: ChangeRemoved, Record: snapshot, PresenceFlipped: flipped})
	return snapshot, true
}

// RemoveByHandle removes the connection bound to handle, if any.
func (r *Registry) RemoveByHandle(handle Transport) (Record, bool) {
	r.mu.Lock()
	connID, exists := r.byHandle[handle]
	r.mu.Unlock()
	if !exists {
		return Record{}, false
	}
	return r.Remove(connID)
}

// Get returns a copy of the record for connID.
func (r *Registry) Get(connID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.byConnID[connID]
	if !exists {
		return Record{}, false
	}
	return *rec, true
}

// Touch refreshes a connection's activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, exists := r.byConnID[connID]; exists {
		rec.LastActivity = r.now()
	}
}

// HasActive reports whether any live connection matches both userID and
// gameID. This is the derived presence state.
func (r *Registry) HasActive(userID, gameID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasActiveLocked(userID, gameID)
}

func (r *Registry) hasActiveLocked(userID, gameID string) bool {
	for _, rec := range r.byConnID {
		if rec.UserID == userID && rec.GameID == gameID {
			return true
		}
	}
	return false
}

// CountForGame returns the number of live connections for gameID.
func (r *Registry) CountForGame(gameID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, rec := range r.byConnID {
		if rec.GameID == gameID {
			count++
		}
	}
	return count
}

// ForGame returns a snapshot of all records for gameID. Broadcast
// iteration runs over the snapshot so evictions during the loop cannot
// corrupt it.
func (r *Registry) ForGame(gameID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.byConnID {
		if rec.GameID == gameID {
			out = append(out, *rec)
		}
	}
	return out
}

// ForUser returns a snapshot of all records bound to userID across
// every game (multiple tabs or devices).
func (r *Registry) ForUser(userID string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.byConnID {
		if rec.UserID == userID {
			out = append(out, *rec)
		}
	}
	return out
}

// IdleSince returns a snapshot of records whose last activity is older
// than cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.byConnID {
		if rec.LastActivity.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out
}

// Len returns the total number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConnID)
}

// SetNowFunc overrides the registry clock. Tests only.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
