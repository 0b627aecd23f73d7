// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COIN LEDGER
// Balances move only through journaled deltas. Financial paths are never
// retried here: a transient failure reaches the caller, who may retry with
// the same idempotency key.
// ══════════════════════════════════════════════════════════════════════════════

// Receipt is the outcome of one ledger call.
type Receipt struct {
	// Balance after the call.
	Balance int64

	// Applied is false when the idempotency key was seen before.
	Applied bool
}

// CoinLedger credits and debits coin balances.
type CoinLedger struct {
	coins   coin.Repository
	timeout time.Duration
	log     *logger.Logger
}

// NewCoinLedger creates a ledger over coins.
func NewCoinLedger(coins coin.Repository, timeout time.Duration, log *logger.Logger) *CoinLedger {
	if log == nil {
		log = logger.Nop()
	}
	return &CoinLedger{coins: coins, timeout: timeout, log: log.With(logger.Component("coin_ledger"))}
}

// Credit adds amount to the user's balance. idemKey scopes the operation;
// the same (reason, user, idemKey) applies at most once.
func (l *CoinLedger) Credit(ctx context.Context, userID string, amount int64, reason coin.Reason, idemKey string) (Receipt, error) {
	if err := shared.ValidatePositive("coin", "Credit", "amount", amount); err != nil {
		return Receipt{}, err
	}
	return l.apply(ctx, "Credit", userID, amount, reason, idemKey)
}

// Debit removes amount from the balance. It fails with an error wrapping
// coin.ErrInsufficientFunds and changes nothing when the balance is too low.
func (l *CoinLedger) Debit(ctx context.Context, userID string, amount int64, reason coin.Reason, idemKey string) (Receipt, error) {
	if err := shared.ValidatePositive("coin", "Debit", "amount", amount); err != nil {
		return Receipt{}, err
	}
	return l.apply(ctx, "Debit", userID, -amount, reason, idemKey)
}

// Balance returns the current balance, zero for unknown users.
func (l *CoinLedger) Balance(ctx context.Context, userID string) (int64, error) {
	if err := shared.ValidateUserID("coin", "Balance", userID); err != nil {
		return 0, err
	}
	ctx, cancel := port.Bounded(ctx, l.timeout)
	defer cancel()
	return l.coins.Balance(ctx, userID)
}

func (l *CoinLedger) apply(ctx context.Context, op, userID string, delta int64, reason coin.Reason, idemKey string) (Receipt, error) {
	if err := shared.ValidateUserID("coin", op, userID); err != nil {
		return Receipt{}, err
	}
	if idemKey == "" {
		return Receipt{}, shared.Validation("coin", op, "idempotency key required")
	}

	entry := coin.Entry{
		UserID:         userID,
		Delta:          delta,
		Reason:         reason,
		IdempotencyKey: coin.IdempotencyKey(string(reason), userID, idemKey),
	}

	ctx, cancel := port.Bounded(ctx, l.timeout)
	defer cancel()

	balance, applied, err := l.coins.Apply(ctx, entry)
	if err != nil {
		l.log.Warn("coin delta refused",
			logger.UserID(userID),
			logger.Coins(delta),
			logger.Operation(op),
			logger.Err(err),
		)
		return Receipt{}, err
	}
	if !applied {
		l.log.Debug("coin delta replayed", logger.UserID(userID), logger.Operation(op))
	}
	return Receipt{Balance: balance, Applied: applied}, nil
}
