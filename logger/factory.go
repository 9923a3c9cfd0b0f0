package logger

import (
	"log/slog"
	"os"
)

// LoggerFactory builds loggers that share one adjustable level.
type LoggerFactory struct {
	config Config
	level  *slog.LevelVar
}

// NewLoggerFactory creates a factory for config; a nil writer means stderr.
func NewLoggerFactory(config Config) *LoggerFactory {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}
	level := new(slog.LevelVar)
	level.Set(config.Level)
	return &LoggerFactory{config: config, level: level}
}

// CreateLogger returns a logger in the configured format. Every logger of a
// factory follows SetLevel.
func (f *LoggerFactory) CreateLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       f.level,
		AddSource:   f.config.AddSource,
		ReplaceAttr: replaceLevel,
	}
	if f.config.Format == "text" {
		return slog.New(slog.NewTextHandler(f.config.Writer, opts))
	}
	return slog.New(slog.NewJSONHandler(f.config.Writer, opts))
}

// SetLevel changes the level of every logger created by f.
func (f *LoggerFactory) SetLevel(level slog.Level) {
	f.level.Set(level)
}

// Level reports the current level.
func (f *LoggerFactory) Level() slog.Level {
	return f.level.Level()
}

// replaceLevel names LevelTrace, which slog would print as DEBUG-4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		return slog.String(slog.LevelKey, "TRACE")
	}
	return a
}
