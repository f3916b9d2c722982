// Package main is the entry point for the remote store server.
//
// The main package stays minimal: read configuration, build the logger,
// make sure the database directory exists, then hand over to
// internal/server. All actual logic lives in imported packages.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/captured-thinkings/internal/config"
	"github.com/sakif/captured-thinkings/internal/logging"
	"github.com/sakif/captured-thinkings/internal/server"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// os.MkdirAll is a no-op when the directory already exists.
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until the server is shut down (Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
