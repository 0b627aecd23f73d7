package activity

import (
	"context"
	"time"
)

// Repository is the append-only event log.
type Repository interface {
	// Append stores an event. Events are never updated or deleted.
	Append(ctx context.Context, event *Event) error

	// Count returns the number of events for userID in category that
	// occurred at or after since. A zero since counts all time. With
	// successOnly set, failed attempts are skipped.
	Count(ctx context.Context, userID string, category Category, since time.Time, successOnly bool) (int, error)
}
