// Package logger configures the process-wide slog logger for the
// evaluation harness. Scoring passes log progress and partial-failure
// warnings through slog so they can be filtered or machine-parsed
// without touching the JSONL outputs on stdout files.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls logger initialization.
type Options struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text" (default) or "json"
	Output io.Writer
}

// Init installs the default slog logger. Safe to call more than once;
// the last call wins.
func Init(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := parseLevel(opts.Level)
	ho := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, ho)
	} else {
		handler = slog.NewTextHandler(out, ho)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
