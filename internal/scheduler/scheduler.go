// Package scheduler implements the always-on background balance-snapshot
// scheduler (§4.5): it samples the active venue every 60s (unless a running
// engine's collector loop already owns it) and every other configured venue
// every 180s, via stored
// credentials and each venue kind's static SnapshotEquity helper,
// independent of whether any grid engine is running. It is grounded on the
// teacher's collector/cadence-gate shape (internal/engine/gridengine's
// collectorLoop), generalized to run across all stored venues rather than
// one engine's active venue.
package scheduler

import (
	"context"
	"time"

	"gridbot/internal/config"
	"gridbot/internal/core"
)

const (
	activeCadence  = 60 * time.Second
	passiveCadence = 180 * time.Second
	tickInterval   = time.Second
)

// VenueOwner reports whether a running grid engine already owns the 60s
// snapshot path for a venue key, so the scheduler does not double-write.
type VenueOwner interface {
	ActiveVenueKey() (key string, owned bool)
}

// Scheduler is the cross-cutting background sampler described in §4.5. It
// runs for the lifetime of the process, regardless of engine state.
type Scheduler struct {
	cfg       *config.Config
	store     core.Store
	snapshots map[string]core.EquitySnapshotter // keyed by credential Type
	owners    []VenueOwner
	logger    core.Logger

	lastSample map[string]time.Time
}

// New constructs a scheduler. snapshots maps a stored credential's Type
// (e.g. "binance") to the static equity-sampling helper for that venue
// kind; owners are consulted each tick so a venue actively driven by a
// grid engine is skipped on the 60s path.
func New(cfg *config.Config, store core.Store, snapshots map[string]core.EquitySnapshotter, owners []VenueOwner, logger core.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		store:      store,
		snapshots:  snapshots,
		owners:     owners,
		logger:     logger,
		lastSample: make(map[string]time.Time),
	}
}

// Run implements bootstrap.Runner.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickInterval):
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	exchanges, err := s.store.GetExchanges(ctx)
	if err != nil {
		return
	}

	activeName, _, _ := s.cfg.ActiveExchange()
	now := time.Now()

	for _, ex := range exchanges {
		key := venueKey(ex.Name, ex.UseTestnet)
		cadence := passiveCadence
		if ex.Name == activeName {
			cadence = activeCadence
			if s.ownedByEngine(key) {
				continue // the owning engine's collector already samples this venue
			}
		}

		if now.Sub(s.lastSample[key]) < cadence {
			continue
		}

		cred, err := s.store.GetCredential(ctx, ex.Name)
		if err != nil {
			continue
		}
		snapshotter, ok := s.snapshots[ex.Type]
		if !ok {
			continue
		}
		equity, err := snapshotter.SnapshotEquity(ctx, cred)
		if err != nil {
			s.carryForward(ctx, key, now)
			s.lastSample[key] = now
			continue
		}
		if _, err := s.store.LogBalanceSnapshot(ctx, key, equity, now); err != nil && s.logger != nil {
			s.logger.Warn("scheduler: snapshot persist failed", "venue", key, "error", err)
		}
		s.lastSample[key] = now
	}
}

// carryForward re-inserts the last known equity value for key as a fresh
// row when a live fetch fails, so a chart reading balance_history sees a
// continuous line instead of a gap across the outage.
func (s *Scheduler) carryForward(ctx context.Context, key string, at time.Time) {
	last, ok, err := s.store.GetLastBalanceSnapshot(ctx, key)
	if err != nil || !ok {
		return
	}
	if _, err := s.store.LogBalanceSnapshot(ctx, key, last, at); err != nil && s.logger != nil {
		s.logger.Warn("scheduler: carry-forward snapshot failed", "venue", key, "error", err)
	}
}

func (s *Scheduler) ownedByEngine(key string) bool {
	for _, owner := range s.owners {
		if ownedKey, owned := owner.ActiveVenueKey(); owned && ownedKey == key {
			return true
		}
	}
	return false
}

func venueKey(name string, useTestnet bool) string {
	if useTestnet {
		return name + "-testnet"
	}
	return name
}
