// Package observability owns process-wide logging for the CLI.
//
// Library packages take a *zap.Logger and default to a no-op logger;
// commands wire CLILogger through so library warnings (backpressure,
// dropped events) reach the operator.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It is a no-op until
// Init is called so library code can log unconditionally.
var CLILogger = zap.NewNop()

// Init configures CLILogger with the given level and format.
//
// Level is a zap level string ("debug", "info", "warn", "error").
// Format is "console" or "json". Logs go to stderr so stdout stays
// reserved for record output.
func Init(level, format string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	switch format {
	case "", "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		cfg.Encoding = "json"
	default:
		return fmt.Errorf("invalid log format %q (want console or json)", format)
	}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return nil
}

// Sync flushes buffered log entries. Safe to call on exit.
func Sync() {
	_ = CLILogger.Sync()
}
