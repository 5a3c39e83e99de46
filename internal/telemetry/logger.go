package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig holds configuration for the process logger.
type LoggerConfig struct {
	ServiceName    string
	ServiceVersion string

	// Level is a zerolog level name (default: info).
	Level string

	// Console switches to human readable output for local development.
	Console bool

	// Output defaults to os.Stdout.
	Output io.Writer
}

// NewLogger builds the process logger. An unknown level falls back to info.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.ServiceVersion).
		Logger()
}
