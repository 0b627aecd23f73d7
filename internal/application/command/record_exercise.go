package command

import (
	"context"
	"strings"
	"time"

	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/application/saga"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD EXERCISE COMMAND
// Logs one exercise attempt on a skill. Only successful attempts count
// toward the skill's achievements and quests; any attempt keeps the daily
// streak alive.
// ══════════════════════════════════════════════════════════════════════════════

// ExerciseOutcome is the result of one recorded exercise.
type ExerciseOutcome struct {
	Event  *activity.Event
	Awards []reward.Award
	Streak *streak.Outcome
}

// RecordExerciseConfig contains configuration for RecordExercise.
type RecordExerciseConfig struct {
	StoreTimeout time.Duration
}

// RecordExercise logs exercise attempts.
type RecordExercise struct {
	store  port.Store
	ref    *timeutil.Reference
	after  followUp
	log    *logger.Logger
	config RecordExerciseConfig
}

// NewRecordExercise creates the command.
func NewRecordExercise(
	store port.Store,
	ref *timeutil.Reference,
	counters *query.EventCounters,
	rewards *saga.RewardLedger,
	streaks *StreakEngine,
	runner *advisory.Runner,
	log *logger.Logger,
	cfg RecordExerciseConfig,
) *RecordExercise {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordExercise{
		store:  store,
		ref:    ref,
		after:  followUp{counters: counters, rewards: rewards, streaks: streaks, runner: runner},
		log:    log.With(logger.Component("record_exercise")),
		config: cfg,
	}
}

// Execute appends an exercise event for skill, then evaluates the skill's
// achievements, its quests, and the daily streak.
func (c *RecordExercise) Execute(ctx context.Context, userID string, skill activity.Skill, exerciseType string, success bool) (*ExerciseOutcome, error) {
	const op = "RecordExercise"
	if !skill.IsValid() {
		return nil, shared.Validation("activity", op, "unknown skill "+string(skill))
	}
	exerciseType = strings.TrimSpace(exerciseType)

	category := activity.ExerciseCategory(skill)
	ev, err := activity.NewEvent(userID, category, success, c.ref.Now(), activity.Metadata{
		activity.KeyExerciseType: exerciseType,
	})
	if err != nil {
		return nil, err
	}

	appendCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	err = c.store.Activity().Append(appendCtx, ev)
	cancel()
	if err != nil {
		return nil, err
	}

	c.log.Debug("exercise recorded",
		logger.UserID(userID),
		logger.Category(string(category)),
		logger.String("exercise_type", exerciseType),
		logger.Bool("success", success),
	)

	out := &ExerciseOutcome{Event: ev}
	if success {
		out.Awards = c.after.progress(ctx, userID, category)
	}
	out.Streak = c.after.day(ctx, userID)
	if out.Streak != nil {
		out.Awards = append(out.Awards, out.Streak.Milestones...)
	}
	return out, nil
}
