// Package sweeper implements the retention sweep: a periodic scan that
// deletes room snapshots untouched for longer than the configured
// retention horizon, generalized from a RoomManager cleanup routine into
// its own ticking component.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"collab-canvas/internal/logging"
	"collab-canvas/internal/metrics"
	"collab-canvas/internal/room"
)

// LastModifiedLister is the subset of internal/store.Store the sweeper
// needs: enumerate room names on disk and read each one's last-modified
// timestamp without paying to decode its whole document.
type LastModifiedLister interface {
	ListSnapshotNames() ([]string, error)
	LastModified(name string) (time.Time, error)
}

// Sweeper periodically deletes rooms whose snapshot has not been touched
// within the retention horizon.
type Sweeper struct {
	registry *room.Registry
	store    LastModifiedLister
	horizon  time.Duration
	interval time.Duration
	log      *zap.Logger
}

// New builds a sweeper. interval controls how often Run scans; horizon is
// the maximum age of an untouched snapshot before it's deleted.
func New(reg *room.Registry, store LastModifiedLister, horizon, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: reg,
		store:    store,
		horizon:  horizon,
		interval: interval,
		log:      logging.L().Named("sweeper"),
	}
}

// Run ticks every interval and sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one pass, deleting every room whose snapshot's
// lastModifiedAt predates the retention horizon. A room currently loaded
// in memory is skipped even if its on-disk snapshot is stale — it is, by
// definition, still active. Returns the number of rooms deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	names, err := s.store.ListSnapshotNames()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-s.horizon)
	deleted := 0
	for _, name := range names {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		if s.registry.IsLive(name) {
			continue
		}

		lastModified, err := s.store.LastModified(name)
		if err != nil {
			s.log.Warn("could not read snapshot header, skipping", zap.String("room", name), zap.Error(err))
			continue
		}
		if lastModified.After(cutoff) {
			continue
		}

		if err := s.registry.Delete(name); err != nil {
			s.log.Warn("could not delete expired room", zap.String("room", name), zap.Error(err))
			continue
		}
		deleted++
		metrics.RoomsSwept.Inc()
		s.log.Info("swept expired room", zap.String("room", name), zap.Time("lastModified", lastModified))
	}
	return deleted, nil
}
