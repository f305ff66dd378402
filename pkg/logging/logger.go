// Package logging provides structured logging functionality.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Format     string // "json" or "console"
	Output     string // "stdout", "stderr", or file path
	TimeFormat string
	NoColor    bool
}

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		TimeFormat: time.RFC3339Nano,
	}
}

// FromEnv returns DefaultLogConfig overridden by LOG_LEVEL and LOG_FORMAT.
func FromEnv() LogConfig {
	cfg := DefaultLogConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	return cfg
}

// New creates the bootstrap logger used before configuration is loaded.
func New(serviceName, version string) zerolog.Logger {
	logger, _, _ := NewWithConfig(serviceName, version, FromEnv())
	return logger
}

// NewWithConfig creates a logger with the given configuration. The returned
// closer releases a log file opened for config.Output and is a no-op for the
// standard streams.
func NewWithConfig(serviceName, version string, config LogConfig) (zerolog.Logger, io.Closer, error) {
	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}
	zerolog.DurationFieldUnit = time.Millisecond

	var (
		output io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
		err    error
	)

	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
	default:
		// Assume it's a file path
		file, openErr := os.OpenFile(config.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if openErr != nil {
			err = fmt.Errorf("open log file %s: %w", config.Output, openErr)
		} else {
			output = file
			closer = file
		}
	}

	if config.Format == "console" || config.Format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    config.NoColor,
		}
	}

	logger := zerolog.New(output).
		Level(ParseLevel(config.Level)).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()

	return logger, closer, err
}

// ParseLevel converts a string log level to zerolog.Level. Unknown levels
// map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithParameter adds the parameter id and the correlation id of the
// on-demand request being served. An empty requestID is omitted.
func WithParameter(logger zerolog.Logger, id uint16, requestID string) zerolog.Logger {
	ctx := logger.With().Uint16("param_id", id)
	if requestID != "" {
		ctx = ctx.Str("request_id", requestID)
	}
	return ctx.Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
