// Package coin contains the coin balance ledger. A balance is mutated only
// through an atomic, journaled delta; nothing reads a balance, adds to it
// locally and writes it back.
package coin

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// ErrInsufficientFunds is wrapped by debits that would make a balance negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Reason tags a journal entry.
type Reason string

const (
	ReasonReward      Reason = "reward"
	ReasonMatchEscrow Reason = "match_escrow"
	ReasonMatchPayout Reason = "match_payout"
	ReasonMatchRefund Reason = "match_refund"
	ReasonPurchase    Reason = "purchase"
	ReasonAdjustment  Reason = "adjustment"
)

// Entry is one balance delta. IdempotencyKey is unique across the journal;
// applying the same key twice is a no-op.
type Entry struct {
	UserID         string
	Delta          int64
	Reason         Reason
	IdempotencyKey string
}

// Validate checks the entry shape.
func (e Entry) Validate() error {
	if err := shared.ValidateUserID("coin", "Apply", e.UserID); err != nil {
		return err
	}
	if e.Delta == 0 {
		return shared.Validation("coin", "Apply", "delta cannot be zero")
	}
	if e.IdempotencyKey == "" {
		return shared.Validation("coin", "Apply", "idempotency key required")
	}
	return nil
}

// IdempotencyKey digests its parts into a fixed-width key.
func IdempotencyKey(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// InsufficientFunds builds the error returned by a refused debit.
func InsufficientFunds(op string) error {
	return shared.WrapError("coin", op, shared.ErrValidation, "balance too low", ErrInsufficientFunds)
}

// Repository persists balances and the delta journal.
type Repository interface {
	// Apply atomically adds entry.Delta to the balance and journals the
	// entry. A debit that would go below zero fails with
	// ErrInsufficientFunds and changes nothing. A replayed idempotency key
	// returns applied=false and the current balance.
	Apply(ctx context.Context, entry Entry) (balance int64, applied bool, err error)

	// Balance returns the current balance, zero for unknown users.
	Balance(ctx context.Context, userID string) (int64, error)
}
