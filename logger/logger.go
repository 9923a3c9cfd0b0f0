package logger

import (
	"context"
	"log/slog"
)

// Logger is the process-wide logger; SetLogger replaces it.
var Logger *slog.Logger

var defaultFactory *LoggerFactory

func init() {
	defaultFactory = NewLoggerFactory(LoadConfig())
	Logger = defaultFactory.CreateLogger()
}

func Debug(msg string, args ...any) { Logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger.Warn(msg, args...) }
func Error(msg string, args ...any) { Logger.Error(msg, args...) }

// DebugContext logs at Debug with the query identifiers carried by ctx.
func DebugContext(ctx context.Context, msg string, args ...any) {
	logContext(ctx, slog.LevelDebug, msg, args)
}

// InfoContext logs at Info with the query identifiers carried by ctx.
func InfoContext(ctx context.Context, msg string, args ...any) {
	logContext(ctx, slog.LevelInfo, msg, args)
}

// WarnContext logs at Warn with the query identifiers carried by ctx.
func WarnContext(ctx context.Context, msg string, args ...any) {
	logContext(ctx, slog.LevelWarn, msg, args)
}

// ErrorContext logs at Error with the query identifiers carried by ctx.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	logContext(ctx, slog.LevelError, msg, args)
}

func logContext(ctx context.Context, level slog.Level, msg string, args []any) {
	if !Logger.Enabled(ctx, level) {
		return
	}
	Logger.Log(ctx, level, msg, appendContextArgs(ctx, args...)...)
}

// With returns a logger that adds args to every record.
func With(args ...any) *slog.Logger {
	return Logger.With(args...)
}

// WithContext returns a logger carrying the query identifiers of ctx.
func WithContext(ctx context.Context) *slog.Logger {
	return Logger.With(appendContextArgs(ctx)...)
}

// SetLogLevel changes the level of the environment-configured logger.
func SetLogLevel(level slog.Level) {
	defaultFactory.SetLevel(level)
}

// SetLogger replaces the global logger, returning the previous one.
func SetLogger(l *slog.Logger) *slog.Logger {
	prev := Logger
	Logger = l
	return prev
}

func appendContextArgs(ctx context.Context, args ...any) []any {
	return append(args, ExtractContextValues(ctx)...)
}
