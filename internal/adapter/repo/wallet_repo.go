package repo

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"genorch/internal/domain"
	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

// WalletPG implements domain.Wallet over the wallets, wallet_holds and
// wallet_entries tables. Every operation is one statement keyed by its ref.
type WalletPG struct {
	sql infra.SQLExecutor
}

// NewWalletRepository creates a wallet backed by PostgreSQL.
func NewWalletRepository(sql infra.SQLExecutor) *WalletPG {
	return &WalletPG{sql: sql}
}

func (w *WalletPG) Hold(ctx context.Context, userID string, amount decimal.Decimal, holdRef string) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("wallet: hold amount must be positive, got %s", amount)
	}
	var ok bool
	if err := w.sql.QueryRow(ctx, sqlinline.QWalletHold, userID, amount.String(), holdRef).Scan(&ok); err != nil {
		return false, fmt.Errorf("wallet: hold %s: %w", holdRef, err)
	}
	return ok, nil
}

func (w *WalletPG) Charge(ctx context.Context, userID string, amount decimal.Decimal, chargeRef, holdRef string) error {
	var (
		done  bool
		prior string
	)
	if err := w.sql.QueryRow(ctx, sqlinline.QWalletCharge, userID, amount.String(), chargeRef, holdRef).Scan(&done, &prior); err != nil {
		return fmt.Errorf("wallet: charge %s: %w", holdRef, err)
	}
	return settleOutcome("charge", holdRef, done, domain.HoldState(prior), domain.HoldCharged)
}

func (w *WalletPG) Refund(ctx context.Context, userID string, _ decimal.Decimal, refundRef, holdRef string) error {
	return w.giveBack(ctx, userID, refundRef, holdRef, "refund")
}

func (w *WalletPG) Release(ctx context.Context, userID, holdRef string) error {
	return w.giveBack(ctx, userID, holdRef+":release", holdRef, "release")
}

// Balance returns the spendable balance of a user.
func (w *WalletPG) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	if err := w.sql.QueryRow(ctx, sqlinline.QWalletBalance, userID).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("wallet: balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// TopUp credits the balance once per ref and returns the new balance.
func (w *WalletPG) TopUp(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("wallet: top-up amount must be positive, got %s", amount)
	}
	var raw string
	if err := w.sql.QueryRow(ctx, sqlinline.QWalletTopUp, userID, amount.String(), ref).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("wallet: top-up %s: %w", ref, err)
	}
	return decimal.NewFromString(raw)
}

func (w *WalletPG) giveBack(ctx context.Context, userID, entryRef, holdRef, kind string) error {
	var (
		done  bool
		prior string
	)
	if err := w.sql.QueryRow(ctx, sqlinline.QWalletReturn, userID, holdRef, entryRef, kind).Scan(&done, &prior); err != nil {
		return fmt.Errorf("wallet: %s %s: %w", kind, holdRef, err)
	}
	return settleOutcome(kind, holdRef, done, domain.HoldState(prior), domain.HoldReleased)
}

// settleOutcome turns the statement result into an error. A hold already in
// the target state is a replay and succeeds.
func settleOutcome(op, holdRef string, done bool, prior, target domain.HoldState) error {
	switch {
	case done, prior == target:
		return nil
	case prior == "":
		return fmt.Errorf("wallet: %s %s: %w", op, holdRef, domain.ErrNotFound)
	case prior == domain.HoldHeld:
		return fmt.Errorf("wallet: %s %s: hold belongs to another user: %w", op, holdRef, domain.ErrNotFound)
	default:
		return fmt.Errorf("wallet: %s %s already %s: %w", op, holdRef, prior, domain.ErrInvalidTransition)
	}
}
