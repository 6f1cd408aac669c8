package logging

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// resetLogger clears the package-level singleton so each test can
// observe Initialize's effect from a clean slate.
func resetLogger() {
	logger = nil
	once = sync.Once{}
}

func TestLFallsBackWhenUninitialized(t *testing.T) {
	resetLogger()
	l := L()
	assert.NotNil(t, l, "L should hand back a usable logger even before Initialize")
}

func TestInitializeIsIdempotent(t *testing.T) {
	resetLogger()
	assert.NoError(t, Initialize(true))
	first := logger

	assert.NoError(t, Initialize(false))
	assert.Same(t, first, logger, "a second Initialize call must not replace the logger")
}

func TestRoomScopesRoomField(t *testing.T) {
	resetLogger()
	core, logs := observer.New(zap.InfoLevel)
	logger = zap.New(core)

	Room("lobby").Info("tick")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "lobby", fields["room"])
}

func TestSessionScopesSessionAndUserFields(t *testing.T) {
	resetLogger()
	core, logs := observer.New(zap.InfoLevel)
	logger = zap.New(core)

	Session("sess-1", "user-1").Info("joined")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "sess-1", fields["session_id"])
	assert.Equal(t, "user-1", fields["user_id"])
}
