// Package review contains the per-item spaced repetition state and the
// pure SM-2 scheduler that advances it.
package review

import (
	"time"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// Status is the learning stage of one learner/item pair.
type Status string

const (
	StatusLearning Status = "learning"
	StatusReview   Status = "review"
	StatusMastered Status = "mastered"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusLearning, StatusReview, StatusMastered:
		return true
	}
	return false
}

const (
	// DefaultEaseFactor is the ease of a freshly created state.
	DefaultEaseFactor = 2.5
	// MinEaseFactor is the floor the ease factor never goes below.
	MinEaseFactor = 1.3
	// MasteryStreak is the number of consecutive successful reviews that
	// marks an item as mastered.
	MasteryStreak = 5
	// PassQuality is the lowest quality that counts as a successful recall.
	PassQuality = 3
)

// State is the review state of one learner/item pair.
type State struct {
	UserID     string
	ItemID     string
	Interval   int // days
	EaseFactor float64
	Streak     int
	DueAt      time.Time
	Status     Status
	MasteredAt *time.Time
	UpdatedAt  time.Time
}

// NewState creates the state for a first exposure, due immediately.
func NewState(userID, itemID string, now time.Time) (*State, error) {
	if err := shared.ValidateUserID("review", "NewState", userID); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, shared.Validation("review", "NewState", "item id cannot be empty")
	}
	return &State{
		UserID:     userID,
		ItemID:     itemID,
		Interval:   0,
		EaseFactor: DefaultEaseFactor,
		Streak:     0,
		DueAt:      now,
		Status:     StatusLearning,
		UpdatedAt:  now,
	}, nil
}

// Prior extracts the scheduler input from a stored state.
func (s *State) Prior() Prior {
	return Prior{Interval: s.Interval, EaseFactor: s.EaseFactor, Streak: s.Streak}
}

// Apply stores a scheduling result and reports whether this review is the
// first transition into mastered.
func (s *State) Apply(r Result, now time.Time) (becameMastered bool) {
	s.Interval = r.Interval
	s.EaseFactor = r.EaseFactor
	s.Streak = r.Streak
	s.DueAt = r.DueAt
	s.UpdatedAt = now

	if r.Status == StatusMastered && s.MasteredAt == nil {
		at := now
		s.MasteredAt = &at
		becameMastered = true
	}
	s.Status = r.Status
	return becameMastered
}

// IsDue reports whether the item should be shown at now.
func (s *State) IsDue(now time.Time) bool {
	return !s.DueAt.After(now)
}
