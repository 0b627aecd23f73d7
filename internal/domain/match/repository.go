package match

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Patch carries the fields a transition writes together with the status.
type Patch struct {
	ChallengerID  string // set on open -> active
	WinnerID      *string
	SettledAt     *time.Time
	RequireScores bool // only apply when both scores are present
	At            time.Time
}

// Repository persists matches.
type Repository interface {
	// Create inserts a new match.
	Create(ctx context.Context, m *Match) error

	// Get returns the match or a NotFound error.
	Get(ctx context.Context, id uuid.UUID) (*Match, error)

	// Transition moves the match from -> to if its status still equals
	// from. applied is false when another caller got there first.
	Transition(ctx context.Context, id uuid.UUID, from, to Status, patch Patch) (applied bool, err error)

	// SetScore stores score in side's slot if the match is active and the
	// slot is still empty.
	SetScore(ctx context.Context, id uuid.UUID, side Side, score int, at time.Time) (applied bool, err error)

	// ListStale returns matches in status not updated since before.
	ListStale(ctx context.Context, status Status, before time.Time, limit int) ([]*Match, error)
}
