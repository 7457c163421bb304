// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to a zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - Cache hit/miss and keys
//   - Each Census API request and its query
//   - Chunk merges inside a group
//
// Info: run progress
//   - Catalog and geography loaded
//   - Group started/finished, rows written to the sink
//   - Status server startup/shutdown
//
// Warn: recoverable trouble
//   - Retry attempts (with the geographic unit being queried)
//   - Rate limit pauses (429 / Retry-After)
//   - Cache errors (request goes to the API instead)
//
// Error: a unit of work is lost
//   - Terminal request failures and retry exhaustion
//   - Group failures and sink write failures
//   - Fatal reference load failures
//
// Context Fields:
//   - run_id: pipeline run identifier
//   - group: variable group name (e.g. B01001)
//   - state, county: geographic unit being queried
//   - endpoint: Census API path
//   - status_code: HTTP status code
//   - error_class: client, server, rate_limit, network, decode
//   - attempt: retry attempt number
//   - rows: number of rows fetched or written
