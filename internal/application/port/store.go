// Package port defines the storage boundary of the progression engine.
// Application code sees only these interfaces; the postgres and memory
// packages implement them.
package port

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/streak"
)

// Repositories groups the typed repositories.
type Repositories interface {
	Reviews() review.Repository
	Activity() activity.Repository
	Rewards() reward.Repository
	Coins() coin.Repository
	Streaks() streak.Repository
	Matches() match.Repository
}

// Tx is a unit of work. Everything written through a Tx commits or rolls
// back together.
type Tx interface {
	Repositories
}

// Store is the engine's storage.
type Store interface {
	Repositories

	// WithinTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Bounded derives the per-call store context. A non-positive timeout
// leaves only the caller's deadline.
func Bounded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
