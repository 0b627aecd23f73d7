package review

import (
	"context"
	"time"
)

// Repository persists review states, one row per (UserID, ItemID).
type Repository interface {
	// Get returns the state or a NotFound error.
	Get(ctx context.Context, userID, itemID string) (*State, error)

	// Upsert writes the state keyed by (UserID, ItemID).
	Upsert(ctx context.Context, state *State) error

	// Delete removes the state. Missing rows give a NotFound error.
	Delete(ctx context.Context, userID, itemID string) error

	// Due lists states with DueAt <= now ordered by DueAt, then by
	// EaseFactor ascending so harder items come first.
	Due(ctx context.Context, userID string, now time.Time, limit int) ([]*State, error)
}
