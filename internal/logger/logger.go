// Package logger configures zerolog for the service and carries the
// request-scoped logger through context.Context.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogging sets the global logger. format is "json" or "console"; an
// unknown level falls back to info. A nil writer means stdout.
func InitLogging(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(ParseLevel(level))

	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Str("service", "todo-service").Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

func ParseLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithLogger returns a copy of ctx carrying l.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &log.Logger
	}
	return zerolog.Ctx(ctx)
}

func InfoLog(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Info().Msgf(format, args...)
}

func WarnLog(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Warn().Msgf(format, args...)
}

func DebugLog(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Debug().Msgf(format, args...)
}

func ErrorLog(ctx context.Context, err error, format string, args ...interface{}) {
	FromContext(ctx).Error().Err(err).Msgf(format, args...)
}
