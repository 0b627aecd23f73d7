// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT COUNTERS
// Category totals recomputed from the append-only activity log. Rewards and
// quests read their progress from here; nothing caches a running total.
// ══════════════════════════════════════════════════════════════════════════════

// EventCounters counts activity events per user and category.
type EventCounters struct {
	events  activity.Repository
	timeout time.Duration
}

// NewEventCounters creates counters over events. Every count runs under
// timeout.
func NewEventCounters(events activity.Repository, timeout time.Duration) *EventCounters {
	return &EventCounters{events: events, timeout: timeout}
}

// Count returns the number of events in category since the given instant.
// Progress categories count successful events only. A zero since counts
// all time.
func (c *EventCounters) Count(ctx context.Context, userID string, category activity.Category, since time.Time) (int, error) {
	const op = "Count"
	if err := shared.ValidateUserID("activity", op, userID); err != nil {
		return 0, err
	}
	if !category.IsEventCategory() {
		return 0, shared.Validation("activity", op, "unknown event category "+string(category))
	}

	ctx, cancel := port.Bounded(ctx, c.timeout)
	defer cancel()

	return c.events.Count(ctx, userID, category, since, category.CountsSuccessOnly())
}

// Total returns the all-time count of category.
func (c *EventCounters) Total(ctx context.Context, userID string, category activity.Category) (int, error) {
	return c.Count(ctx, userID, category, time.Time{})
}
