package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogFields carries structured context for a log entry.
type LogFields map[string]interface{}

// Logger is the driver-wide structured logger. It is a thin shim over
// zerolog so call sites stay stable if the backend changes.
type Logger struct {
	zl zerolog.Logger
}

// New creates a Logger writing to w at the given level ("debug", "info",
// "warning", "error"). Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	zl := zerolog.New(w).With().Timestamp().Str("app", "cqlwire").Logger()
	return &Logger{zl: zl.Level(parseLevel(level))}
}

// NewConsole creates a Logger with human-readable console output, for
// the CLI harness.
func NewConsole(level string) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	zl := zerolog.New(output).With().Timestamp().Str("app", "cqlwire").Logger()
	return &Logger{zl: zl.Level(parseLevel(level))}
}

// Nop returns a Logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []LogFields) {
	for _, f := range fields {
		ev = ev.Fields(map[string]interface{}(f))
	}
	ev.Msg(msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.emit(l.zl.Debug(), msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...LogFields) {
	l.emit(l.zl.Info(), msg, fields)
}

// Warn logs at warning level.
func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...LogFields) {
	l.emit(l.zl.Error(), msg, fields)
}
