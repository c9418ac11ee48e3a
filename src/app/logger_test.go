package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txkernel.log")

	cfg := DefaultConfig()
	cfg.LogOutput = path
	cfg.LogLevel = "warn"

	log, err := NewLogger(cfg)
	require.NoError(t, err)

	log.Infow("filtered out", "txn", 1)
	log.Warnw("lock timed out", "txn", 2)
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "lock timed out", entry["msg"])
	assert.InDelta(t, 2, entry["txn"], 0)
}

func TestNewLoggerConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "txkernel.log")

	cfg := DefaultConfig()
	cfg.LogOutput = path
	cfg.LogFormat = "console"

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	log.Infof("opened %s", "db")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "opened db")
	assert.False(t, json.Valid(data))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "loud"

	_, err := NewLogger(cfg)
	require.Error(t, err)
}

func TestNewLoggerDevelopment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Environment = EnvDev
	cfg.LogLevel = "ignored in dev"

	log, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, log)
}
