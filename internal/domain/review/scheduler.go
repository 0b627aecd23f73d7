package review

import (
	"math"
	"time"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// Prior is the part of a review state the scheduler reads.
type Prior struct {
	Interval   int
	EaseFactor float64
	Streak     int
}

// Result is the scheduler output.
type Result struct {
	Interval   int
	EaseFactor float64
	Streak     int
	Status     Status
	DueAt      time.Time
}

// Schedule runs one SM-2 step. It is pure: the same inputs always give the
// same output.
//
// now must come from the shared reference clock; DueAt is now plus the new
// interval in calendar days.
func Schedule(quality int, prior Prior, now time.Time) (Result, error) {
	if quality < 0 || quality > 5 {
		return Result{}, shared.Validation("review", "Schedule", "quality must be between 0 and 5")
	}
	if prior.Interval < 0 || prior.Streak < 0 {
		return Result{}, shared.Validation("review", "Schedule", "prior interval and streak cannot be negative")
	}
	if prior.EaseFactor < MinEaseFactor || math.IsNaN(prior.EaseFactor) {
		return Result{}, shared.Validation("review", "Schedule", "prior ease factor below 1.3")
	}

	res := Result{EaseFactor: prior.EaseFactor}

	if quality < PassQuality {
		res.Streak = 0
		res.Interval = 1
	} else {
		res.Streak = prior.Streak + 1
		switch res.Streak {
		case 1:
			res.Interval = 1
		case 2:
			res.Interval = 6
		default:
			res.Interval = int(math.Round(float64(prior.Interval) * prior.EaseFactor))
		}

		q := float64(5 - quality)
		res.EaseFactor = math.Max(MinEaseFactor, prior.EaseFactor+(0.1-q*(0.08+q*0.02)))
	}

	if res.Streak >= MasteryStreak {
		res.Status = StatusMastered
	} else {
		res.Status = StatusReview
	}

	res.DueAt = now.AddDate(0, 0, res.Interval)

	return res, nil
}
