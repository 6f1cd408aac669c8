// Package metrics declares the process's Prometheus instruments, grounded
// on RoseWrightdev-Video-Conferencing's internal/v1/metrics package:
// namespace "canvas", subsystem per feature area, gauges for current state
// and counters for cumulative events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms tracks the number of rooms currently loaded in memory.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "canvas",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms loaded in memory",
	})

	// RoomSessions tracks the number of attached sessions per room.
	RoomSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "canvas",
		Subsystem: "room",
		Name:      "sessions_active",
		Help:      "Number of sessions currently attached to a room",
	}, []string{"room"})

	// CommandsTotal counts commands processed by room actors, by type and
	// outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "room",
		Name:      "commands_total",
		Help:      "Total room-actor commands processed",
	}, []string{"command", "outcome"})

	// BroadcastsTotal counts outgoing broadcast frames.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "room",
		Name:      "broadcasts_total",
		Help:      "Total frames handed off to session outboxes",
	}, []string{"type"})

	// SnapshotsWritten counts successful snapshot flushes.
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "store",
		Name:      "snapshots_written_total",
		Help:      "Total snapshot files written to disk",
	})

	// SnapshotWriteErrors counts failed snapshot flushes.
	SnapshotWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "store",
		Name:      "snapshot_write_errors_total",
		Help:      "Total snapshot write failures",
	})

	// RoomsSwept counts rooms deleted by the retention sweeper.
	RoomsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "sweeper",
		Name:      "rooms_deleted_total",
		Help:      "Total rooms deleted for exceeding the retention horizon",
	})

	// SessionsClosed counts sessions closed, by reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "canvas",
		Subsystem: "session",
		Name:      "closed_total",
		Help:      "Total sessions closed, by reason",
	}, []string{"reason"})
)
