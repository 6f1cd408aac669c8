// Package logging provides the process-wide structured logger, grounded on
// RoseWrightdev-Video-Conferencing's internal/v1/logging package: a
// package-level *zap.Logger built once via sync.Once, with small
// convenience wrappers that attach request-scoped fields.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. development selects a human-
// readable, colorized encoder; production selects JSON with ISO8601
// timestamps. Safe to call multiple times — only the first call takes
// effect.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build()
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (e.g. in a unit test).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Room returns a logger scoped to a room, for handlers that touch exactly
// one room's worth of activity.
func Room(name string) *zap.Logger {
	return L().With(zap.String("room", name))
}

// Session returns a logger scoped to one connected session.
func Session(sessionID, userID string) *zap.Logger {
	return L().With(zap.String("session_id", sessionID), zap.String("user_id", userID))
}

// Sync flushes any buffered log entries; call on shutdown.
func Sync() {
	_ = L().Sync()
}
