// Package config loads server settings from TRELLIS_* environment
// variables. Flags on the server command override these.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Addr is the HTTP/WebSocket listen address.
	Addr string

	// DBPath enables sqlite persistence of room update logs when
	// non-empty. Empty means memory-only, matching the original
	// relay's behavior.
	DBPath string

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string

	// CloseOnMergeError disconnects a client whose fragment fails to
	// merge instead of only logging it.
	CloseOnMergeError bool

	// Per-client inbound rate limiting.
	MessagesPerSecond float64
	MessageBurst      int

	// Compaction of the persisted update log. Only used with DBPath.
	CompactionInterval  time.Duration
	CompactionThreshold int
	KeepRecentUpdates   int
}

func Default() Config {
	return Config{
		Addr:                ":1234",
		DBPath:              "",
		LogLevel:            "info",
		CloseOnMergeError:   false,
		MessagesPerSecond:   100,
		MessageBurst:        200,
		CompactionInterval:  5 * time.Minute,
		CompactionThreshold: 100,
		KeepRecentUpdates:   10,
	}
}

func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("TRELLIS_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TRELLIS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRELLIS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRELLIS_CLOSE_ON_MERGE_ERROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CloseOnMergeError = b
		}
	}
	if v := os.Getenv("TRELLIS_MESSAGES_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MessagesPerSecond = f
		}
	}
	if v := os.Getenv("TRELLIS_MESSAGE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MessageBurst = n
		}
	}
	if v := os.Getenv("TRELLIS_COMPACTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CompactionInterval = d
		}
	}
	if v := os.Getenv("TRELLIS_COMPACTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CompactionThreshold = n
		}
	}
	if v := os.Getenv("TRELLIS_KEEP_RECENT_UPDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.KeepRecentUpdates = n
		}
	}

	return cfg
}
