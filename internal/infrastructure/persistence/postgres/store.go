package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements port.Store on a connection pool.
type Store struct {
	conn *Connection
	root repos
}

var _ port.Store = (*Store)(nil)

// NewStore creates a store over conn.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn, root: repos{q: conn.Pool()}}
}

// WithinTx implements port.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(repos{q: tx, inTx: true})
	})
	if err != nil && shared.KindOf(err) == nil {
		return mapError("postgres", "WithinTx", err)
	}
	return err
}

// Ping implements port.Store.
func (s *Store) Ping(ctx context.Context) error {
	return mapError("postgres", "Ping", s.conn.Ping(ctx))
}

// Reviews implements port.Repositories.
func (s *Store) Reviews() review.Repository { return s.root.Reviews() }

// Activity implements port.Repositories.
func (s *Store) Activity() activity.Repository { return s.root.Activity() }

// Rewards implements port.Repositories.
func (s *Store) Rewards() reward.Repository { return s.root.Rewards() }

// Coins implements port.Repositories.
func (s *Store) Coins() coin.Repository { return s.root.Coins() }

// Streaks implements port.Repositories.
func (s *Store) Streaks() streak.Repository { return s.root.Streaks() }

// Matches implements port.Repositories.
func (s *Store) Matches() match.Repository { return s.root.Matches() }

// repos binds the repositories to either the pool or one transaction.
type repos struct {
	q    Querier
	inTx bool
}

func (r repos) Reviews() review.Repository { return &ReviewRepository{q: r.q, lock: r.inTx} }
func (r repos) Activity() activity.Repository { return &ActivityRepository{q: r.q} }
func (r repos) Rewards() reward.Repository { return &RewardRepository{q: r.q} }
func (r repos) Coins() coin.Repository { return &CoinRepository{q: r.q} }
func (r repos) Streaks() streak.Repository { return &StreakRepository{q: r.q} }
func (r repos) Matches() match.Repository { return &MatchRepository{q: r.q} }
