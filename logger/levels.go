package logger

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug; the engine logs individual producer scheduling decisions at it.
const LevelTrace slog.Level = -8

// TraceContext logs a message at LevelTrace
func TraceContext(ctx context.Context, msg string, args ...any) {
	logContext(ctx, LevelTrace, msg, args)
}
