package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"genorch/internal/infra"
	"genorch/internal/migrations"
)

const createLedger = `create table if not exists schema_migrations (
	name text primary key,
	applied_at timestamptz not null default now()
)`

func main() {
	var dryRun bool
	flag.BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	flag.Parse()

	_ = godotenv.Load()
	logger := infra.NewLogger("cli").With().Str("cmd", "migrate").Logger()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	if _, err := db.ExecContext(ctx, createLedger); err != nil {
		logger.Fatal().Err(err).Msg("create schema_migrations")
	}

	all, err := migrations.All()
	if err != nil {
		logger.Fatal().Err(err).Msg("load migrations")
	}

	applied := 0
	for _, m := range all {
		var exists bool
		if err := db.QueryRowContext(ctx, `select exists(select 1 from schema_migrations where name = $1)`, m.Name).Scan(&exists); err != nil {
			logger.Fatal().Err(err).Str("migration", m.Name).Msg("check migration")
		}
		if exists {
			continue
		}
		if dryRun {
			fmt.Printf("pending %s\n", m.Name)
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			logger.Fatal().Err(err).Str("migration", m.Name).Msg("apply migration")
		}
		logger.Info().Str("migration", m.Name).Msg("applied")
		applied++
	}
	fmt.Printf("%d migration(s) applied\n", applied)
}

func apply(ctx context.Context, db *sql.DB, m migrations.Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `insert into schema_migrations (name) values ($1)`, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
