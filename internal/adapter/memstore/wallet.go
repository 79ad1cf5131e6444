package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"genorch/internal/domain"
)

// Wallet implements domain.Wallet in memory. Holds debit the balance
// immediately; refund and release credit it back.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	holds    map[string]*domain.Hold
	topups   map[string]struct{}
}

// NewWallet returns a wallet with no balances.
func NewWallet() *Wallet {
	return &Wallet{
		balances: make(map[string]decimal.Decimal),
		holds:    make(map[string]*domain.Hold),
		topups:   make(map[string]struct{}),
	}
}

func (w *Wallet) Hold(_ context.Context, userID string, amount decimal.Decimal, holdRef string) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("wallet: hold amount must be positive, got %s", amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.holds[holdRef]; ok {
		return true, nil
	}
	if w.balances[userID].LessThan(amount) {
		return false, nil
	}
	w.balances[userID] = w.balances[userID].Sub(amount)
	w.holds[holdRef] = &domain.Hold{UserID: userID, Amount: amount, Ref: holdRef, State: domain.HoldHeld}
	return true, nil
}

func (w *Wallet) Charge(_ context.Context, userID string, amount decimal.Decimal, _ string, holdRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.settleable(userID, holdRef, domain.HoldCharged)
	if err != nil || h == nil {
		return err
	}
	if h.Amount.GreaterThan(amount) {
		w.balances[userID] = w.balances[userID].Add(h.Amount.Sub(amount))
	}
	h.State = domain.HoldCharged
	return nil
}

func (w *Wallet) Refund(_ context.Context, userID string, _ decimal.Decimal, _ string, holdRef string) error {
	return w.giveBack(userID, holdRef)
}

func (w *Wallet) Release(_ context.Context, userID, holdRef string) error {
	return w.giveBack(userID, holdRef)
}

func (w *Wallet) giveBack(userID, holdRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	h, err := w.settleable(userID, holdRef, domain.HoldReleased)
	if err != nil || h == nil {
		return err
	}
	w.balances[userID] = w.balances[userID].Add(h.Amount)
	h.State = domain.HoldReleased
	return nil
}

// settleable returns the hold when it can move to target, nil when it is
// already there.
func (w *Wallet) settleable(userID, holdRef string, target domain.HoldState) (*domain.Hold, error) {
	h, ok := w.holds[holdRef]
	if !ok || h.UserID != userID {
		return nil, fmt.Errorf("wallet: hold %s: %w", holdRef, domain.ErrNotFound)
	}
	switch h.State {
	case domain.HoldHeld:
		return h, nil
	case target:
		return nil, nil
	default:
		return nil, fmt.Errorf("wallet: hold %s already %s: %w", holdRef, h.State, domain.ErrInvalidTransition)
	}
}

// TopUp credits the balance once per ref.
func (w *Wallet) TopUp(_ context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("wallet: top-up amount must be positive, got %s", amount)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.topups[ref]; !dup {
		w.topups[ref] = struct{}{}
		w.balances[userID] = w.balances[userID].Add(amount)
	}
	return w.balances[userID], nil
}

// Balance returns the spendable balance.
func (w *Wallet) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID], nil
}

// HoldState reports the state of a hold, empty when unknown.
func (w *Wallet) HoldState(holdRef string) domain.HoldState {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.holds[holdRef]; ok {
		return h.State
	}
	return ""
}
