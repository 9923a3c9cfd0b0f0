package logger

import (
	"log/slog"
	"time"
)

// Field helpers for structured logging
var (
	String  = slog.String
	Int     = slog.Int
	Int64   = slog.Int64
	Float64 = slog.Float64
	Bool    = slog.Bool
	Any     = slog.Any

	Duration = func(key string, d time.Duration) slog.Attr {
		return slog.Any(key, d)
	}

	ErrorField = func(err error) slog.Attr {
		if err == nil {
			return slog.String("error", "<nil>")
		}
		return slog.String("error", err.Error())
	}

	Component = func(name string) slog.Attr {
		return slog.String("component", name)
	}

	Operation = func(name string) slog.Attr {
		return slog.String("operation", name)
	}

	// Query execution fields
	Collection = func(name string) slog.Attr {
		return slog.String("collection", name)
	}

	PartitionRange = func(id, min, max string) slog.Attr {
		return slog.Group("partition", slog.String("id", id), slog.String("min", min), slog.String("max", max))
	}

	Strategy = func(name string) slog.Attr {
		return slog.String("strategy", name)
	}

	PageSize = func(n int) slog.Attr {
		return slog.Int("page_size", n)
	}

	Charge = func(ru float64) slog.Attr {
		return slog.Float64("request_charge", ru)
	}
)
