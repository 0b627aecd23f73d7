package postgres

import (
	"context"

	"github.com/linguaquest/progression/internal/domain/coin"
)

// ══════════════════════════════════════════════════════════════════════════════
// COIN REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CoinRepository implements coin.Repository for PostgreSQL.
//
// Apply is one statement: the journal insert and the balance upsert commit
// or fail together. The non_negative_balance check turns an overdraft into
// a statement error, which rolls back the journal row as well.
type CoinRepository struct {
	q Querier
}

const applyCoinsQuery = `
	WITH journal AS (
		INSERT INTO coin_transactions (idempotency_key, user_id, delta, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING user_id, delta
	)
	INSERT INTO coin_balances (user_id, balance, updated_at)
	SELECT user_id, delta, NOW() FROM journal
	ON CONFLICT (user_id) DO UPDATE SET
		balance = coin_balances.balance + EXCLUDED.balance,
		updated_at = NOW()
	RETURNING balance
`

// Apply implements coin.Repository.
func (r *CoinRepository) Apply(ctx context.Context, entry coin.Entry) (int64, bool, error) {
	if err := entry.Validate(); err != nil {
		return 0, false, err
	}

	var balance int64
	err := r.q.QueryRow(ctx, applyCoinsQuery,
		entry.IdempotencyKey,
		entry.UserID,
		entry.Delta,
		string(entry.Reason),
	).Scan(&balance)

	switch {
	case err == nil:
		return balance, true, nil
	case IsNoRows(err):
		// Replayed key: nothing was journaled.
		balance, err := r.Balance(ctx, entry.UserID)
		return balance, false, err
	case IsCheckViolation(err):
		return 0, false, coin.InsufficientFunds("Apply")
	default:
		return 0, false, mapError("coin", "Apply", err)
	}
}

// Balance implements coin.Repository.
func (r *CoinRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.q.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM coin_balances WHERE user_id = $1), 0)`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, mapError("coin", "Balance", err)
	}
	return balance, nil
}
