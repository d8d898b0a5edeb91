package gateway

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/volchan/vol-bingo-sub000/internal/registry"
)

// Sweeper evicts connections whose last activity is older than the
// timeout. It is the correctness backstop for clients that vanish
// without a clean close: crashes, partitions, killed tabs.
type Sweeper struct {
	reg      *registry.Registry
	presence *Presence
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
}

// NewSweeper creates a sweeper on the real clock.
func NewSweeper(reg *registry.Registry, presence *Presence, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		reg:      reg,
		presence: presence,
		clock:    clockwork.NewRealClock(),
		interval: interval,
		timeout:  timeout,
	}
}

// SetClock overrides the clock. Tests only.
func (s *Sweeper) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

// Run ticks until ctx is cancelled. Each tick takes the same registry
// lock path as request handlers.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Dur("timeout", s.timeout).
		Msg("idle connection sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("idle connection sweeper stopped")
			return
		case <-ticker.Chan():
			s.Sweep(ctx)
		}
	}
}

// Sweep evicts every idle connection once. Exposed so tests can drive
// ticks directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.clock.Now().Add(-s.timeout)
	idle := s.reg.IdleSince(cutoff)
	if len(idle) == 0 {
		return
	}

	for _, rec := range idle {
		removed, ok := s.reg.Remove(rec.ConnID)
		if !ok {
			// A handler beat us to it; nothing left to do.
			continue
		}

		removed.Handle.Close()

		log.Info().
			Str("connection_id", removed.ConnID).
			Str("game_id", removed.GameID).
			Str("user_id", removed.UserID).
			Time("last_activity", removed.LastActivity).
			Msg("evicted idle connection")

		// Registry removal already flipped persisted presence if this
		// was the last connection for the pair; only then does the
		// roster change and need announcing.
		if !s.reg.HasActive(removed.UserID, removed.GameID) {
			s.presence.BroadcastPlayersList(ctx, removed.GameID)
		}
	}
}
