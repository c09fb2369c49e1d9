// Package logging constructs the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON   Format = "json"   // machine-readable, one object per line
	FormatPretty Format = "pretty" // human-readable console output
)

// Config holds logger settings.
type Config struct {
	Level  string // debug, info, warn, error
	Format Format
}

// New builds a logger with timestamps and a service field. Unknown levels
// fall back to info.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "smartychat").
		Logger()
}
