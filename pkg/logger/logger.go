package logger

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// New builds the process-wide structured JSON logger. Debug level is enabled
// only outside production so the call-board loops can trace event flow
// without flooding production output.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", "callhelm")
}

type ctxKey struct{}

// With stores a request-scoped logger in the context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the context's logger, falling back to slog.Default() so call
// sites never need a nil check.
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// ShutdownFlush drains any buffered log output on shutdown. slog's JSON
// handler writes through, so today this only exists to keep main's shutdown
// sequence uniform.
func ShutdownFlush(_ context.Context, _ time.Duration) error { return nil }
