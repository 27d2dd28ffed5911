// Package log builds the process-wide slog.Logger, choosing a handler and
// level the way the daemon's config and --verbose flag request.
package log

import (
	"log/slog"
	"os"
)

// Options selects the handler format and minimum level for New.
type Options struct {
	// Format is "text" or "json"; anything else defaults to json.
	Format string
	Debug  bool
}

// New builds a slog.Logger writing to stdout per opts.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
