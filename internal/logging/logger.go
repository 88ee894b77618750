// Package logging holds the process-wide slog logger and carries
// invocation-scoped loggers through a context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

type ctxKey struct{}

// Init installs a logger writing to stderr at level ("debug", "info", "warn",
// "error") in format ("text" or "json").
func Init(level, format string) {
	InitWriter(level, format, os.Stderr)
}

// InitWriter is Init with an explicit destination.
func InitWriter(level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	logger.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		if strings.EqualFold(level, "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return lvl
}

// Logger returns the global logger, installing an info-level text logger on first use.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	Init("info", "text")
	return logger.Load()
}

// WithContext returns a context carrying a logger that adds args to every record.
func WithContext(ctx context.Context, args ...any) context.Context {
	return context.WithValue(ctx, ctxKey{}, FromContext(ctx).With(args...))
}

// FromContext returns the logger stored by WithContext, or the global logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return Logger()
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

func Info(msg string, args ...any) { Logger().Info(msg, args...) }

func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

func Error(msg string, args ...any) { Logger().Error(msg, args...) }
