// Package streak contains the daily streak state machine. The transition
// is a pure function; the repository applies it with a compare-and-swap on
// Version so that a day is counted at most once.
package streak

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// State is the streak of one user. LastActiveDate is the start of a
// reference-zone day; the zero time means the user was never active.
type State struct {
	UserID         string
	LastActiveDate time.Time
	Count          int
	Best           int
	Freezes        int
	Version        int64
	UpdatedAt      time.Time
}

// Kind classifies a transition.
type Kind string

const (
	KindUnchanged Kind = "unchanged" // already active today
	KindStarted   Kind = "started"   // first activity ever
	KindAdvanced  Kind = "advanced"  // active yesterday
	KindFrozen    Kind = "frozen"    // gap bridged by a freeze
	KindRestarted Kind = "restarted" // gap without a freeze
)

// Transition is the result of Advance.
type Transition struct {
	Next       State
	Kind       Kind
	FreezeUsed bool
}

// Changed reports whether the state must be written.
func (t Transition) Changed() bool {
	return t.Kind != KindUnchanged
}

// Advance applies one qualifying activity on day today, which must be the
// start of a reference-zone day. With allowFreeze unset a gap always
// restarts the streak.
func Advance(s State, today time.Time, allowFreeze bool) Transition {
	next := s

	if s.LastActiveDate.IsZero() {
		next.Count = 1
		next.LastActiveDate = today
		return finish(next, KindStarted, false)
	}

	days := timeutil.DaysBetweenIn(today.Location(), s.LastActiveDate, today)
	switch {
	case days <= 0:
		// Same day, or a clock that moved backwards.
		return Transition{Next: s, Kind: KindUnchanged}
	case days == 1:
		next.Count = s.Count + 1
		next.LastActiveDate = today
		return finish(next, KindAdvanced, false)
	case allowFreeze && s.Freezes > 0:
		next.Freezes = s.Freezes - 1
		next.LastActiveDate = today
		return finish(next, KindFrozen, true)
	default:
		next.Count = 1
		next.LastActiveDate = today
		return finish(next, KindRestarted, false)
	}
}

func finish(next State, kind Kind, freezeUsed bool) Transition {
	if next.Count > next.Best {
		next.Best = next.Count
	}
	return Transition{Next: next, Kind: kind, FreezeUsed: freezeUsed}
}

// Outcome is what RecordDailyActivity reports to callers.
type Outcome struct {
	Count      int
	Best       int
	Changed    bool
	FreezeUsed bool
	Milestones []reward.Award
}

// Repository persists streak states.
type Repository interface {
	// Get returns the state or a NotFound error.
	Get(ctx context.Context, userID string) (*State, error)

	// Insert creates the state if absent. applied is false when a row
	// already exists.
	Insert(ctx context.Context, state *State) (applied bool, err error)

	// CompareAndSwap writes next if the stored Version still equals
	// expectedVersion, bumping Version by one.
	CompareAndSwap(ctx context.Context, next *State, expectedVersion int64) (applied bool, err error)

	// AddFreezes atomically adds n freezes, creating the state if absent,
	// and bumps Version. It returns the new freeze count.
	AddFreezes(ctx context.Context, userID string, n int) (int, error)
}
