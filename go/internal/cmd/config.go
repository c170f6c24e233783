package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mcdev12/teamsync/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func loadConfig() (config.Config, map[string][]string, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return config.Config{}, nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	presets, err := config.LoadPresets(cfg.VotePresetsFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, presets, nil
}

func setupLogging(cfg config.Config) {
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.Level())
}
