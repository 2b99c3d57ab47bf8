// Package logger wraps zerolog with the settings used by the server and CLI.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config logger settings
type Config struct {
	Level       string
	PrettyPrint bool
	ShowCaller  bool
	Output      io.Writer
}

// Logger is a leveled structured logger.
type Logger struct {
	zero zerolog.Logger
}

// NewNop creates a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zero: zerolog.Nop()}
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.PrettyPrint {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.ShowCaller {
		ctx = ctx.Caller()
	}
	return &Logger{zero: ctx.Logger()}
}

// Debug starts a new message with debug level
func (l *Logger) Debug() *zerolog.Event {
	return l.zero.Debug()
}

// Info starts a new message with info level
func (l *Logger) Info() *zerolog.Event {
	return l.zero.Info()
}

// Warn starts a new message with warn level
func (l *Logger) Warn() *zerolog.Event {
	return l.zero.Warn()
}

// Error starts a new message with error level
func (l *Logger) Error() *zerolog.Event {
	return l.zero.Error()
}

// Fatal starts a new message with fatal level
func (l *Logger) Fatal() *zerolog.Event {
	return l.zero.Fatal()
}

// Printf logs a formatted message at info level. It lets the logger stand
// in where a printf-style callback is expected.
func (l *Logger) Printf(format string, v ...interface{}) {
	l.zero.Info().Msgf(format, v...)
}

// With returns a child logger with the fields added by fn.
func (l *Logger) With(fn func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{zero: fn(l.zero.With()).Logger()}
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(lvl) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}
