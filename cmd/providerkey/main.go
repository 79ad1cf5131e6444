package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"genorch/internal/infra"
	"genorch/internal/infra/credentials"
)

func main() {
	var (
		keyFlag     string
		baseURLFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "generation provider API key (fallbacks to PROVIDER_API_KEY)")
	flag.StringVar(&baseURLFlag, "base-url", "", "optional provider base URL stored next to the key")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("PROVIDER_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "provider API key is required via -key or PROVIDER_API_KEY")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", credentials.ProviderTaskAPI).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	if err := store.SetProviderAPIKey(ctxExec, key, strings.TrimSpace(baseURLFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist provider api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Provider API key stored successfully")
}
