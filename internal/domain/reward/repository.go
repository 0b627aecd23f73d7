package reward

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/domain/activity"
)

// Repository persists reward records keyed by (UserID, Key).
type Repository interface {
	// Get returns the record or a NotFound error.
	Get(ctx context.Context, userID, key string) (*Record, error)

	// UpsertProgress creates the record or updates Progress and Target.
	// Achieved records are left untouched.
	UpsertProgress(ctx context.Context, record *Record) error

	// MarkAchieved sets AchievedAt if it is still nil, creating the record
	// when absent. applied is false when the reward was already achieved.
	MarkAchieved(ctx context.Context, userID, key string, category activity.Category, target int, at time.Time) (applied bool, err error)

	// List returns all records of a user ordered by category, then target.
	List(ctx context.Context, userID string) ([]*Record, error)
}
