// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs a JSON handler on stderr, or a text handler at debug level
// when debug is set, as the default logger and returns it.
func Setup(debug bool) *slog.Logger {
	logger := New(os.Stderr, debug)
	slog.SetDefault(logger)
	return logger
}

// New builds the logger Setup would install, writing to w.
func New(w io.Writer, debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
