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
	// LevelTrace logs everything, including third-party trace output.
	LevelTrace LogLevel = "trace"

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

	// Service, when set, is attached to every entry as the "service" field.
	Service string
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
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "trace":
		return zerolog.TraceLevel
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

// ForWorkItem derives a logger scoped to one work item of a run.
func ForWorkItem(parent zerolog.Logger, workItemID, accountID string) zerolog.Logger {
	return parent.With().
		Str("work_item_id", workItemID).
		Str("account_id", accountID).
		Logger()
}

// Log Level Guidelines:
//
// Debug: per-request flow and internal state
//   - vendor request executed (method, url, page)
//   - parallel calls finished, paging round complete
//   - state loaded, missing state blob, permanent failure not retried
//   - async run submitted, report downloaded
//   - stale utilization reading ignored
//
// Info: normal run events
//   - run started / finished, work item status changes, work item complete
//   - resuming a work item from its snapshot
//   - report pages fetched, dimensions downloaded
//   - expired snapshot discarded, success after a retry
//
// Warn: recoverable conditions
//   - retrying after backoff, retry budget exceeded
//   - vendor request error, request failed and chunk cancelled
//   - utilization above the warning mark, request held while critical
//   - max runtime reached, no further batches dispatched
//   - unparsable state, partial manifest or status report problems
//
// Error: conditions requiring attention
//   - retry attempts exhausted
//   - utilization above the critical mark (throttling)
//   - work item status changed to error
//
// Window waits are not logged; they are observed in ingest_window_wait_seconds.
//
// Context Fields:
//   - component: emitting package (vendor-client, parallel-caller, orchestrator, ...)
//   - vendor: vendor name from the vendor config
//   - work_item_id, account_id: work item identity
//   - report: report name, run_id for async runs
//   - attempt, delay: retry bookkeeping
//   - status_code, error_class: vendor response classification
