// Package observability wires structured logging and in-process
// request/error metrics for the bridge: a zerolog logger writing to a
// size-rotated file via lumberjack, and counters/histograms rendered
// as JSON at /metrics.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where and how the bridge's structured logs are
// written.
type LogConfig struct {
	Dir        string // directory containing bridge.log and its rotated backups
	Level      string // "debug", "info", "warn", "error"
	Console    bool   // write a human-readable console stream instead of JSON (dev mode)
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLogConfig matches the gateway's default logging posture.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Dir:        "logs",
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 14,
		MaxAgeDays: 30,
	}
}

// NewLogger builds the process-wide zerolog.Logger. Outside console
// mode it writes to Dir/bridge.log through lumberjack, which rotates
// the file when it reaches MaxSizeMB and names backups with a
// local-time timestamp. The file is not rotated by calendar day.
func NewLogger(cfg LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return zerolog.Logger{}, err
		}
		out = &lumberjack.Logger{
			Filename:   cfg.Dir + "/bridge.log",
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
			LocalTime:  true,
		}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, nil
}
