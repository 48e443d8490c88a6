package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is a custom slog level below [slog.LevelDebug] used for full
// request and response bodies.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts a case-insensitive string to an [slog.Level].
// Accepted values are trace, debug, info (or empty), warn (or warning)
// and error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames renders [LevelTrace] as "TRACE" instead of "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// NewLogger builds the service logger. The level is read from lv on every
// record so it can be changed at runtime.
func NewLogger(w io.Writer, cfg LoggingConfig, lv *slog.LevelVar) (*slog.Logger, error) {
	level, err := ParseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	lv.Set(level)

	opts := &slog.HandlerOptions{
		Level:       lv,
		ReplaceAttr: ReplaceLogLevelNames,
	}
	switch cfg.Format {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
