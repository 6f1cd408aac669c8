package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	SnapshotsWritten.Add(0) // ensure the series exists even if never incremented elsewhere
	before := testutil.ToFloat64(SnapshotsWritten)
	SnapshotsWritten.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SnapshotsWritten))

	RoomsSwept.Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(RoomsSwept), float64(1))
}

func TestLabeledCountersTrackPerLabel(t *testing.T) {
	CommandsTotal.WithLabelValues("add", "ok").Inc()
	CommandsTotal.WithLabelValues("add", "error").Inc()

	ok := testutil.ToFloat64(CommandsTotal.WithLabelValues("add", "ok"))
	errLabel := testutil.ToFloat64(CommandsTotal.WithLabelValues("add", "error"))
	assert.GreaterOrEqual(t, ok, float64(1))
	assert.GreaterOrEqual(t, errLabel, float64(1))

	SessionsClosed.WithLabelValues("overflow").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(SessionsClosed.WithLabelValues("overflow")), float64(1))
}

func TestGaugesSetAndTrackPerRoom(t *testing.T) {
	ActiveRooms.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveRooms))

	RoomSessions.WithLabelValues("lobby").Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(RoomSessions.WithLabelValues("lobby")))
}
