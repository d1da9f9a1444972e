// Package economy is the off-chain chip ledger used by non-vault rooms:
// buy-ins are conditional debits, cash-outs are credits, and the hand
// result trail lives beside the ledger as a pure audit record.
package economy

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/goldenflop/goldenflop/internal/store"
)

// ErrInsufficientBalance is returned when a debit cannot be covered.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger wraps the durable balance table with game semantics.
type Ledger struct {
	store  *store.Store
	logger *log.Logger
}

// NewLedger builds a ledger over the durable store.
func NewLedger(s *store.Store, logger *log.Logger) *Ledger {
	return &Ledger{store: s, logger: logger.WithPrefix("ledger")}
}

// Balance returns the current balance for (user, token).
func (l *Ledger) Balance(userID int64, tokenType string) (int64, error) {
	return l.store.Balance(userID, tokenType)
}

// BuyIn debits the buy-in atomically; the balance is only modified when
// it covers the amount.
func (l *Ledger) BuyIn(userID int64, tokenType string, amount int64) error {
	ok, err := l.store.DebitIf(userID, tokenType, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInsufficientBalance
	}
	l.logger.Debug("buy-in debited", "user", userID, "token", tokenType, "amount", amount)
	return nil
}

// CashOut credits chips back to the ledger.
func (l *Ledger) CashOut(userID int64, tokenType string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := l.store.Credit(userID, tokenType, amount); err != nil {
		return err
	}
	l.logger.Debug("cash-out credited", "user", userID, "token", tokenType, "amount", amount)
	return nil
}

// Refund returns a failed buy-in to the ledger.
func (l *Ledger) Refund(userID int64, tokenType string, amount int64) error {
	return l.CashOut(userID, tokenType, amount)
}

// RecordHandResult stores a hand result for auditing. Failures are
// logged and swallowed: the chips were already exchanged inside the
// hand, so the trail must never block gameplay.
func (l *Ledger) RecordHandResult(roomID, handID string, result any) {
	if err := l.store.RecordHandResult(roomID, handID, result); err != nil {
		l.logger.Error("failed to record hand result", "room", roomID, "hand", handID, "error", err)
	}
}
