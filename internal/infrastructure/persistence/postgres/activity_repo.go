package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements activity.Repository for PostgreSQL.
type ActivityRepository struct {
	q Querier
}

// Append implements activity.Repository.
func (r *ActivityRepository) Append(ctx context.Context, e *activity.Event) error {
	md := e.Metadata
	if md == nil {
		md = activity.Metadata{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return shared.WrapError("activity", "Append", shared.ErrValidation, "metadata is not encodable", err)
	}

	query := `
		INSERT INTO activity_events (id, user_id, category, success, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.q.Exec(ctx, query,
		e.ID,
		e.UserID,
		string(e.Category),
		e.Success,
		e.OccurredAt,
		mdJSON,
	)
	return mapError("activity", "Append", err)
}

// Count implements activity.Repository.
func (r *ActivityRepository) Count(ctx context.Context, userID string, category activity.Category, since time.Time, successOnly bool) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM activity_events
		WHERE user_id = $1
			AND category = $2
			AND ($3::timestamptz IS NULL OR occurred_at >= $3)
			AND (NOT $4 OR success)
	`

	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	var n int
	if err := r.q.QueryRow(ctx, query, userID, string(category), sinceArg, successOnly).Scan(&n); err != nil {
		return 0, mapError("activity", "Count", err)
	}
	return n, nil
}
