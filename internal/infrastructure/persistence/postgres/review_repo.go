package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ReviewRepository implements review.Repository for PostgreSQL. Inside a
// transaction Get locks the row so that two reviews of the same item
// serialize.
type ReviewRepository struct {
	q    Querier
	lock bool
}

const reviewColumns = `user_id, item_id, interval_days, ease_factor, streak, due_at, status, mastered_at, updated_at`

// Get implements review.Repository.
func (r *ReviewRepository) Get(ctx context.Context, userID, itemID string) (*review.State, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_states WHERE user_id = $1 AND item_id = $2`
	if r.lock {
		query += ` FOR UPDATE`
	}

	s, err := scanReviewState(r.q.QueryRow(ctx, query, userID, itemID))
	if err != nil {
		return nil, mapError("review", "Get", err)
	}
	return s, nil
}

// Upsert implements review.Repository.
func (r *ReviewRepository) Upsert(ctx context.Context, s *review.State) error {
	query := `
		INSERT INTO review_states (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			interval_days = EXCLUDED.interval_days,
			ease_factor = EXCLUDED.ease_factor,
			streak = EXCLUDED.streak,
			due_at = EXCLUDED.due_at,
			status = EXCLUDED.status,
			mastered_at = EXCLUDED.mastered_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.q.Exec(ctx, query,
		s.UserID,
		s.ItemID,
		s.Interval,
		s.EaseFactor,
		s.Streak,
		s.DueAt,
		string(s.Status),
		s.MasteredAt,
		s.UpdatedAt,
	)
	return mapError("review", "Upsert", err)
}

// Delete implements review.Repository.
func (r *ReviewRepository) Delete(ctx context.Context, userID, itemID string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM review_states WHERE user_id = $1 AND item_id = $2`, userID, itemID)
	if err != nil {
		return mapError("review", "Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("review", "Delete", "review state not found")
	}
	return nil
}

// Due implements review.Repository.
func (r *ReviewRepository) Due(ctx context.Context, userID string, now time.Time, limit int) ([]*review.State, error) {
	query := `
		SELECT ` + reviewColumns + `
		FROM review_states
		WHERE user_id = $1 AND due_at <= $2
		ORDER BY due_at ASC, ease_factor ASC
		LIMIT $3
	`

	rows, err := r.q.Query(ctx, query, userID, now, limit)
	if err != nil {
		return nil, mapError("review", "Due", err)
	}
	defer rows.Close()

	var out []*review.State
	for rows.Next() {
		s, err := scanReviewState(rows)
		if err != nil {
			return nil, mapError("review", "Due", fmt.Errorf("scan review state: %w", err))
		}
		out = append(out, s)
	}
	return out, mapError("review", "Due", rows.Err())
}

func scanReviewState(row pgx.Row) (*review.State, error) {
	var (
		s      review.State
		status string
	)
	err := row.Scan(
		&s.UserID,
		&s.ItemID,
		&s.Interval,
		&s.EaseFactor,
		&s.Streak,
		&s.DueAt,
		&status,
		&s.MasteredAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = review.Status(status)
	return &s, nil
}
