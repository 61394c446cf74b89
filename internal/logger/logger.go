// Package logger builds the application slog.Logger from the logging
// configuration: text or JSON handlers, console and rotating-file outputs.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Arkalin/ccxt-plus/internal/config"
)

// New constructs a logger from the logging configuration. When both console
// and file outputs are enabled the same records go to both.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer

	if cfg.Console {
		writers = append(writers, os.Stderr)
	}
	if cfg.File {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Path, "app.log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	out := io.MultiWriter(writers...)
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	if closer == nil {
		closer = nopCloser{}
	}
	return slog.New(handler), closer, nil
}

// WithTask returns a logger carrying the task tag attribute, e.g.
// "binance_future_BTC-USDT_15m".
func WithTask(logger *slog.Logger, tag string) *slog.Logger {
	return logger.With("task", tag)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
