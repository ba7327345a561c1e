// Liquidity - LCR and NSFR calculation with full audit trail.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
	"github.com/opensource-finance/liquidity/internal/config"
	"github.com/opensource-finance/liquidity/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// A missing .env is fine; the environment may be set another way.
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&calcCmd{}, "")
	commander.Register(&rulesCmd{}, "")
	commander.Register(&benchCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// loadConfig loads the configuration and installs the logger it asks for,
// writing to logOut.
func loadConfig(path string, logOut io.Writer) (*domain.Config, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging, logOut)
	return cfg, nil
}

func setupLogger(cfg domain.LoggingConfig, w io.Writer) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
