package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mcdev12/teamsync/go/internal/collab"
	"github.com/mcdev12/teamsync/go/internal/config"
	"github.com/mcdev12/teamsync/go/internal/models"
	"github.com/mcdev12/teamsync/go/internal/storage"
	"github.com/rs/zerolog/log"
)

// store is what the server needs from a storage backend
type store interface {
	collab.Store
	SecretHash(ctx context.Context, kind models.TopicKind, id string) (string, error)
	ResetPresence(ctx context.Context) (int64, error)
}

func setupDatabase(cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("user", cfg.DB.User).
		Str("host", cfg.DB.Host).
		Int("port", cfg.DB.Port).
		Str("database", cfg.DB.Database).
		Msg("connected to database")
	return database, nil
}

// setupStore opens the configured backend. The returned close func releases it.
func setupStore(ctx context.Context, cfg config.Config) (store, func(), error) {
	var (
		s       store
		closeFn = func() {}
	)

	switch cfg.Storage {
	case config.StorageMemory:
		mem := storage.NewMemoryStore()
		if err := seedMemory(ctx, mem); err != nil {
			return nil, nil, err
		}
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		s = mem
	default:
		database, err := setupDatabase(cfg)
		if err != nil {
			return nil, nil, err
		}
		s = storage.NewRepository(database)
		closeFn = func() { database.Close() }
	}

	// Participants belong to live connections, none of which survived the
	// previous process.
	n, err := s.ResetPresence(ctx)
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to reset presence: %w", err)
	}
	log.Info().Int64("removed", n).Msg("cleared stale participants")

	return s, closeFn, nil
}

// seedMemory creates a demo room and board so a memory-backed server is
// usable straight away
func seedMemory(ctx context.Context, mem *storage.MemoryStore) error {
	now := time.Now().UTC()
	room := models.Room{
		ID:        "demo-room",
		Name:      "Demo planning",
		Votes:     models.VoteSequence{Preset: "fibonacci", Values: []string{"0", "1", "2", "3", "5", "8", "13", "21", "?"}},
		CreatedAt: now,
	}
	if err := mem.CreateRoom(ctx, room); err != nil {
		return fmt.Errorf("failed to seed room: %w", err)
	}

	board := models.Board{
		ID:        "demo-board",
		Name:      "Demo retro",
		Timer:     models.TimerState{Default: 300},
		CreatedAt: now,
	}
	if err := mem.CreateBoard(ctx, board); err != nil {
		return fmt.Errorf("failed to seed board: %w", err)
	}
	return nil
}
