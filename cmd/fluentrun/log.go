package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// initLogger sets up the default logger from the --log-level and --log-format flags.
func initLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q: expected text or json", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}
