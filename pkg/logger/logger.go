// Package logger provides service-scoped structured logging backed by
// zerolog. Every service component receives a *Logger tagged with the
// service name and version; fields added with WithField propagate to all
// entries written through the derived logger.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the leveled printf-style methods the
// rest of the codebase uses.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing human-readable output to stderr, tagged with
// the service name and version.
func New(serviceName, version string) *Logger {
	return NewWithWriter(serviceName, version, zerolog.ConsoleWriter{Out: os.Stderr})
}

// NewWithWriter creates a logger writing to w. Tests pass an io.Discard or
// buffer writer here.
func NewWithWriter(serviceName, version string, w io.Writer) *Logger {
	zl := zerolog.New(w).With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// SetLevel adjusts the minimum emitted level ("debug", "info", "warn",
// "error"). Unknown names keep the current level.
func (l *Logger) SetLevel(level string) *Logger {
	if parsed, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		l.zl = l.zl.Level(parsed)
	}
	return l
}

// WithField returns a derived logger that includes key=value on every entry.
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

// Debug logs at debug level.
func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs at info level.
func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs at warn level.
func (l *Logger) Warn(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs at error level.
func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
