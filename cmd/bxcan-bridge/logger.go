package main

import (
	"io"
	"log/slog"

	"github.com/kstaniek/go-bxcan/internal/logging"
)

func setupLogger(format, level string, w io.Writer) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	l := logging.New(format, lvl, w).With("app", "bxcan-bridge")
	if err != nil {
		l.Warn("log_level_fallback", "level", level, "used", lvl.String())
	}
	logging.Set(l)
	return l
}
