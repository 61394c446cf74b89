package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arkalin/ccxt-plus/internal/config"
)

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		Level:      "info",
		Format:     "text",
		Console:    false,
		File:       true,
		Path:       filepath.Join(dir, "logs"),
		MaxSizeMB:  3,
		MaxBackups: 3,
	}

	log, closer, err := New(cfg)
	require.NoError(t, err)
	defer closer.Close()

	log.Info("task started", "since", 0)

	data, err := os.ReadFile(filepath.Join(cfg.Path, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "task started")
	assert.Contains(t, string(data), "since=0")
}

func TestNewRespectsLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		File:   true,
		Path:   dir,
	}

	log, closer, err := New(cfg)
	require.NoError(t, err)
	defer closer.Close()

	log.Info("quiet")
	log.Warn("loud")

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestWithTask(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		Level:  "info",
		Format: "json",
		File:   true,
		Path:   dir,
	}

	log, closer, err := New(cfg)
	require.NoError(t, err)
	defer closer.Close()

	WithTask(log, "binance_future_BTC-USDT_15m").Info("page fetched")

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"task":"binance_future_BTC-USDT_15m"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}
