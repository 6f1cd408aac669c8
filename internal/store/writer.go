package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"collab-canvas/internal/logging"
	"collab-canvas/internal/metrics"
	"collab-canvas/internal/room"
)

// Writer periodically flushes every loaded, dirty room's snapshot to disk,
// so a crash loses at most one interval's worth of edits. A room with no
// mutations since its last successful save is skipped entirely — snapshot
// persistence batches writes instead of saving on every keystroke.
type Writer struct {
	registry *room.Registry
	store    *Store
	interval time.Duration
}

// NewWriter builds a periodic flusher over every room currently loaded in
// reg, saving through store every interval.
func NewWriter(reg *room.Registry, store *Store, interval time.Duration) *Writer {
	return &Writer{registry: reg, store: store, interval: interval}
}

// Run ticks every interval, flushing all loaded rooms, until ctx is
// cancelled. A final flush runs on cancellation so a graceful shutdown
// never drops the last interval's writes.
func (wtr *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(wtr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wtr.flushAll()
			return ctx.Err()
		case <-ticker.C:
			wtr.flushAll()
		}
	}
}

func (wtr *Writer) flushAll() {
	for _, name := range wtr.registry.Names() {
		actor, ok := wtr.registry.Lookup(name)
		if !ok {
			continue
		}
		reply := make(chan room.Result, 1)
		actor.Send(room.Command{Kind: room.KindSnapshot, Reply: reply})
		res := <-reply
		if res.Snap == nil || !res.Dirty {
			continue
		}
		if err := wtr.store.Save(name, *res.Snap); err != nil {
			metrics.SnapshotWriteErrors.Inc()
			logging.Room(name).Warn("periodic snapshot flush failed", zap.Error(err))
			continue
		}
		metrics.SnapshotsWritten.Inc()

		clearReply := make(chan room.Result, 1)
		actor.Send(room.Command{Kind: room.KindClearDirty, Version: res.Version, Reply: clearReply})
		<-clearReply
	}
}
