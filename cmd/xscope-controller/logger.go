package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/xscope-harness/internal/logging"
)

func setupLogger(format, level, runID string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "xscope-controller", "run_id", runID)
	logging.Set(l)
	return l
}
