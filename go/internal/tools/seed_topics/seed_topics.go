package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/teamsync/go/internal/config"
	"github.com/mcdev12/teamsync/go/internal/dbconfig"
	"github.com/mcdev12/teamsync/go/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// Room mirrors the rooms table
type Room struct {
	ID     string
	Name   string
	Preset string
	Secret string
}

// Board mirrors the boards table
type Board struct {
	ID           string
	Name         string
	TimerDefault int
	Secret       string
}

func main() {
	ctx := context.Background()

	secret := os.Getenv("SEED_SECRET")
	if secret == "" {
		secret = "letmein"
	}

	rooms := []Room{
		{ID: "demo-room", Name: "Demo planning", Preset: "fibonacci"},
		{ID: "demo-room-secured", Name: "Secured planning", Preset: "tshirt", Secret: secret},
	}
	boards := []Board{
		{ID: "demo-board", Name: "Demo retro", TimerDefault: 300},
	}

	// 1) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Apply the schema
	if _, err := pool.Exec(ctx, storage.Schema); err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert and count
	var (
		total    = len(rooms) + len(boards)
		inserted int
		skipped  int
		errs     int
	)
	count := func(affected int64, err error, id string) {
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "error inserting %s: %v\n", id, err)
			errs++
		case affected == 1:
			inserted++
		default:
			skipped++
		}
	}

	presets := config.DefaultPresets()
	for _, r := range rooms {
		values, err := json.Marshal(presets[r.Preset])
		if err != nil {
			count(0, err, r.ID)
			continue
		}
		hash, err := hashSecret(r.Secret)
		if err != nil {
			count(0, err, r.ID)
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO rooms (id, name, vote_preset, vote_values, secret_hash)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (id) DO NOTHING
        `, r.ID, r.Name, r.Preset, string(values), hash)
		count(cmdTag.RowsAffected(), err, r.ID)
	}

	for _, b := range boards {
		hash, err := hashSecret(b.Secret)
		if err != nil {
			count(0, err, b.ID)
			continue
		}
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO boards (id, name, timer_default, secret_hash)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO NOTHING
        `, b.ID, b.Name, b.TimerDefault, hash)
		count(cmdTag.RowsAffected(), err, b.ID)
	}

	// 4) Print summary
	fmt.Printf("Seed complete: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs)
	if errs > 0 {
		os.Exit(1)
	}
}

// hashSecret returns nil for an open topic
func hashSecret(secret string) (*string, error) {
	if secret == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	s := string(hash)
	return &s, nil
}
