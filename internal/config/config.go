// Package config resolves runtime configuration from the environment (and
// an optional .env file), using github.com/joho/godotenv plus
// RoseWrightdev-Video-Conferencing's collect-all-errors env validation
// style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads from the environment.
type Config struct {
	ListenAddr       string
	DataRoot         string
	UploadsRoot      string
	SnapshotInterval time.Duration
	RetentionHorizon time.Duration
	RoomIdleGrace    time.Duration
	MaxImageBytes    int64
	Development      bool
}

// Load reads a .env file if present, ignoring its absence, then resolves
// each field from its environment variable, falling back to built-in
// defaults. Returns a single wrapped error listing every malformed value
// found.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getEnvOrDefault("LISTEN_ADDR", ":3001"),
		DataRoot:    getEnvOrDefault("DATA_ROOT", "./data"),
		UploadsRoot: getEnvOrDefault("UPLOADS_ROOT", "./uploads"),
		Development: os.Getenv("GO_ENV") != "production",
	}

	var errs []string

	cfg.SnapshotInterval = parseDuration("SNAPSHOT_INTERVAL", 5*time.Second, &errs)
	cfg.RetentionHorizon = parseDuration("RETENTION_HORIZON", 30*24*time.Hour, &errs)
	cfg.RoomIdleGrace = parseDuration("ROOM_IDLE_GRACE", 60*time.Second, &errs)
	cfg.MaxImageBytes = parseBytes("MAX_IMAGE_BYTES", 3*1024*1024, &errs)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: invalid environment:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a valid duration (got %q): %v", key, v, err))
		return def
	}
	return d
}

func parseBytes(key string, def int64, errs *[]string) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer byte count (got %q)", key, v))
		return def
	}
	return n
}
