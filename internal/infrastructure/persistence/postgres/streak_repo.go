package postgres

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/domain/streak"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// StreakRepository implements streak.Repository for PostgreSQL.
type StreakRepository struct {
	q Querier
}

// Get implements streak.Repository.
func (r *StreakRepository) Get(ctx context.Context, userID string) (*streak.State, error) {
	query := `
		SELECT user_id, last_active_at, count, best, freezes, version, updated_at
		FROM streaks
		WHERE user_id = $1
	`

	var (
		s          streak.State
		lastActive *time.Time
	)
	err := r.q.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&lastActive,
		&s.Count,
		&s.Best,
		&s.Freezes,
		&s.Version,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, mapError("streak", "Get", err)
	}
	if lastActive != nil {
		s.LastActiveDate = *lastActive
	}
	return &s, nil
}

// Insert implements streak.Repository.
func (r *StreakRepository) Insert(ctx context.Context, s *streak.State) (bool, error) {
	query := `
		INSERT INTO streaks (user_id, last_active_at, count, best, freezes, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query,
		s.UserID,
		nullableTime(s.LastActiveDate),
		s.Count,
		s.Best,
		s.Freezes,
		s.Version,
		s.UpdatedAt,
	)
	if err != nil {
		return false, mapError("streak", "Insert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompareAndSwap implements streak.Repository.
func (r *StreakRepository) CompareAndSwap(ctx context.Context, next *streak.State, expectedVersion int64) (bool, error) {
	query := `
		UPDATE streaks SET
			last_active_at = $3,
			count = $4,
			best = $5,
			freezes = $6,
			version = version + 1,
			updated_at = $7
		WHERE user_id = $1 AND version = $2
	`

	tag, err := r.q.Exec(ctx, query,
		next.UserID,
		expectedVersion,
		nullableTime(next.LastActiveDate),
		next.Count,
		next.Best,
		next.Freezes,
		next.UpdatedAt,
	)
	if err != nil {
		return false, mapError("streak", "CompareAndSwap", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddFreezes implements streak.Repository.
func (r *StreakRepository) AddFreezes(ctx context.Context, userID string, n int) (int, error) {
	query := `
		INSERT INTO streaks (user_id, freezes, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id) DO UPDATE SET
			freezes = streaks.freezes + EXCLUDED.freezes,
			version = streaks.version + 1,
			updated_at = NOW()
		RETURNING freezes
	`

	var freezes int
	if err := r.q.QueryRow(ctx, query, userID, n).Scan(&freezes); err != nil {
		return 0, mapError("streak", "AddFreezes", err)
	}
	return freezes, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
