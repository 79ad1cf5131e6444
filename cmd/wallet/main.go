package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"genorch/internal/adapter/repo"
	"genorch/internal/infra"
)

func main() {
	var (
		userFlag   string
		amountFlag string
		refFlag    string
		showFlag   bool
	)

	flag.StringVar(&userFlag, "user", "", "user ID whose wallet is credited")
	flag.StringVar(&amountFlag, "amount", "", "credits to add (decimal, e.g. 25 or 12.5)")
	flag.StringVar(&refFlag, "ref", "", "idempotency reference for the top-up (random when empty)")
	flag.BoolVar(&showFlag, "show", false, "print the balance without changing it")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}

	var amount decimal.Decimal
	if !showFlag {
		parsed, err := decimal.NewFromString(strings.TrimSpace(amountFlag))
		if err != nil || !parsed.IsPositive() {
			exitWithError(fmt.Errorf("-amount must be a positive decimal, got %q", amountFlag))
		}
		amount = parsed
	}

	ref := strings.TrimSpace(refFlag)
	if ref == "" {
		ref = "topup:" + uuid.NewString()
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "wallet").Str("user_id", userID).Logger()
	wallet := repo.NewWalletRepository(infra.NewSQLRunner(pool, logger))

	opCtx, cancelOp := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelOp()

	if showFlag {
		balance, err := wallet.Balance(opCtx, userID)
		if err != nil {
			exitWithError(fmt.Errorf("failed to read balance: %w", err))
		}
		fmt.Printf("User %s balance=%s\n", userID, balance.StringFixed(2))
		return
	}

	balance, err := wallet.TopUp(opCtx, userID, amount, ref)
	if err != nil {
		exitWithError(fmt.Errorf("failed to top up wallet: %w", err))
	}
	fmt.Printf("User %s credited %s (ref %s)\n", userID, amount.StringFixed(2), ref)
	fmt.Printf("balance=%s\n", balance.StringFixed(2))
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
