// Package main is the entry point for the quest platform API.
//
// The main package stays minimal:
//  1. Load and validate configuration from the environment
//  2. Build the logger
//  3. Hand both to internal/server and block until shutdown
//
// Everything else lives under internal/.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/quest-platform/internal/config"
	"github.com/sakif/quest-platform/internal/server"
)

func main() {
	// === 1. CONFIGURATION ===
	// Fails fast on a missing JWT_SECRET. Generate one with:
	//   JWT_SECRET=$(openssl rand -hex 32)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. LOGGING ===
	// Text for local development, JSON everywhere else so log shippers can
	// parse the fields. The level was validated by config.Load.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if cfg.IsDevelopment() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	// === 3. DATA DIRECTORIES ===
	// os.MkdirAll is `mkdir -p`; it is a no-op when the directory exists.
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			logger.Error("failed to create database directory", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		logger.Error("failed to create upload directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 4. START ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
