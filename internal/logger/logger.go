package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log is the process-wide logger. It is usable before Init and defaults to
// warnings and errors on stderr.
var Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// ParseLevel maps a level name to a slog level. Unknown names mean INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger, writing text records to stderr.
func Init(levelStr string) {
	InitWriter(os.Stderr, levelStr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, levelStr string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("2006-01-02T15:04:05.000-07:00"))
			}
			return a
		},
	}
	Log = slog.New(slog.NewTextHandler(w, opts))
	slog.SetDefault(Log)
}

// Enabled reports whether debug diagnostics are currently emitted.
func Enabled() bool {
	return Log.Enabled(context.Background(), slog.LevelDebug)
}

// Helper functions for easy access
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
