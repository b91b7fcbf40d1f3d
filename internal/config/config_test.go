package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ":1234", cfg.Addr)
	assert.Empty(t, cfg.DBPath)
	assert.False(t, cfg.CloseOnMergeError)
	assert.Equal(t, 5*time.Minute, cfg.CompactionInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRELLIS_ADDR", ":9999")
	t.Setenv("TRELLIS_DB_PATH", "/tmp/trellis.db")
	t.Setenv("TRELLIS_CLOSE_ON_MERGE_ERROR", "true")
	t.Setenv("TRELLIS_MESSAGES_PER_SECOND", "25.5")
	t.Setenv("TRELLIS_COMPACTION_INTERVAL", "90s")

	cfg := FromEnv()
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "/tmp/trellis.db", cfg.DBPath)
	assert.True(t, cfg.CloseOnMergeError)
	assert.Equal(t, 25.5, cfg.MessagesPerSecond)
	assert.Equal(t, 90*time.Second, cfg.CompactionInterval)
}

func TestInvalidEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("TRELLIS_CLOSE_ON_MERGE_ERROR", "banana")
	t.Setenv("TRELLIS_MESSAGES_PER_SECOND", "-3")
	t.Setenv("TRELLIS_COMPACTION_THRESHOLD", "zero")

	cfg := FromEnv()
	assert.False(t, cfg.CloseOnMergeError)
	assert.Equal(t, float64(100), cfg.MessagesPerSecond)
	assert.Equal(t, 100, cfg.CompactionThreshold)
}
