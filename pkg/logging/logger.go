// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

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

// LevelFromFlags maps the CLI verbosity flags to a level. Debug wins over
// quiet when both are set.
func LevelFromFlags(debug, quiet bool) LogLevel {
	switch {
	case debug:
		return LevelDebug
	case quiet:
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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
// Debug: Detailed information for debugging
//   - Individual requests and pages (endpoint, attempt, page)
//   - Cache operations (hit/miss, key)
//   - Chunk boundaries
//
// Info: Normal operation events (hidden by --quiet)
//   - Export start/finish and row counts
//   - Progress every 100 rows
//   - Reconciliation summaries
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and rate limit windows
//   - Cache errors (fallback to direct request)
//   - Missing authentication configuration
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Authentication failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (api-client, token-cache, reconcile, export)
//   - endpoint: API request path
//   - status: HTTP status code
//   - attempt: 1-based try number
//   - error_class: Error classification (client, server, rate_limit, network)
//   - page, chunk: pagination position
//   - rows: rows written so far
