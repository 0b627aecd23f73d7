package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/reward"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// RewardRepository implements reward.Repository for PostgreSQL.
type RewardRepository struct {
	q Querier
}

const rewardColumns = `user_id, key, category, progress, target, achieved_at, updated_at`

// Get implements reward.Repository.
func (r *RewardRepository) Get(ctx context.Context, userID, key string) (*reward.Record, error) {
	query := `SELECT ` + rewardColumns + ` FROM reward_records WHERE user_id = $1 AND key = $2`

	rec, err := scanRewardRecord(r.q.QueryRow(ctx, query, userID, key))
	if err != nil {
		return nil, mapError("reward", "Get", err)
	}
	return rec, nil
}

// UpsertProgress implements reward.Repository. The conflict branch is
// guarded so that an achieved record never moves.
func (r *RewardRepository) UpsertProgress(ctx context.Context, rec *reward.Record) error {
	query := `
		INSERT INTO reward_records (user_id, key, category, progress, target, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, key) DO UPDATE SET
			progress = EXCLUDED.progress,
			target = EXCLUDED.target,
			updated_at = EXCLUDED.updated_at
		WHERE reward_records.achieved_at IS NULL
	`

	_, err := r.q.Exec(ctx, query,
		rec.UserID,
		rec.Key,
		string(rec.Category),
		rec.Progress,
		rec.Target,
		rec.UpdatedAt,
	)
	return mapError("reward", "UpsertProgress", err)
}

// MarkAchieved implements reward.Repository. Exactly one caller sees a
// row affected for a given (user, key).
func (r *RewardRepository) MarkAchieved(ctx context.Context, userID, key string, category activity.Category, target int, at time.Time) (bool, error) {
	query := `
		INSERT INTO reward_records (user_id, key, category, progress, target, achieved_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, $5)
		ON CONFLICT (user_id, key) DO UPDATE SET
			progress = EXCLUDED.target,
			target = EXCLUDED.target,
			achieved_at = EXCLUDED.achieved_at,
			updated_at = EXCLUDED.updated_at
		WHERE reward_records.achieved_at IS NULL
	`

	tag, err := r.q.Exec(ctx, query, userID, key, string(category), target, at)
	if err != nil {
		return false, mapError("reward", "MarkAchieved", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List implements reward.Repository.
func (r *RewardRepository) List(ctx context.Context, userID string) ([]*reward.Record, error) {
	query := `
		SELECT ` + rewardColumns + `
		FROM reward_records
		WHERE user_id = $1
		ORDER BY category ASC, target ASC, key ASC
	`

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError("reward", "List", err)
	}
	defer rows.Close()

	var out []*reward.Record
	for rows.Next() {
		rec, err := scanRewardRecord(rows)
		if err != nil {
			return nil, mapError("reward", "List", err)
		}
		out = append(out, rec)
	}
	return out, mapError("reward", "List", rows.Err())
}

func scanRewardRecord(row pgx.Row) (*reward.Record, error) {
	var (
		rec      reward.Record
		category string
	)
	err := row.Scan(
		&rec.UserID,
		&rec.Key,
		&category,
		&rec.Progress,
		&rec.Target,
		&rec.AchievedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Category = activity.Category(category)
	return &rec, nil
}
