package command

import (
	"context"
	"time"

	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/application/saga"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REVIEW COMMAND
// One recall attempt on one item: schedule the next review, log the
// attempt, and on the first transition into mastered log a words_mastered
// event in the same transaction. Rewards and the streak follow after commit.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultDueLimit caps DueItems when the caller passes no limit.
const DefaultDueLimit = 50

// ReviewOutcome is the result of one recorded review.
type ReviewOutcome struct {
	// State is the stored review state after the review.
	State *review.State

	// Mastered is true only for the review that first reached mastered.
	Mastered bool

	// Awards lists rewards granted by the follow-up evaluation.
	Awards []reward.Award

	// Streak is the daily streak after the review, nil if it could not be
	// updated.
	Streak *streak.Outcome
}

// RecordReviewConfig contains configuration for RecordReview.
type RecordReviewConfig struct {
	StoreTimeout time.Duration
}

// RecordReview schedules reviews and tracks mastery.
type RecordReview struct {
	store  port.Store
	ref    *timeutil.Reference
	after  followUp
	log    *logger.Logger
	config RecordReviewConfig
}

// NewRecordReview creates the command.
func NewRecordReview(
	store port.Store,
	ref *timeutil.Reference,
	counters *query.EventCounters,
	rewards *saga.RewardLedger,
	streaks *StreakEngine,
	runner *advisory.Runner,
	log *logger.Logger,
	cfg RecordReviewConfig,
) *RecordReview {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordReview{
		store:  store,
		ref:    ref,
		after:  followUp{counters: counters, rewards: rewards, streaks: streaks, runner: runner},
		log:    log.With(logger.Component("record_review")),
		config: cfg,
	}
}

// Execute records a review of itemID with the given recall quality (0-5).
// Follow-up reward and streak failures are logged and never fail the
// review.
func (c *RecordReview) Execute(ctx context.Context, userID, itemID string, quality int) (*ReviewOutcome, error) {
	const op = "RecordReview"
	if err := shared.ValidateUserID("review", op, userID); err != nil {
		return nil, err
	}
	if itemID == "" {
		return nil, shared.Validation("review", op, "item id cannot be empty")
	}
	if quality < 0 || quality > 5 {
		return nil, shared.Validation("review", op, "quality must be between 0 and 5")
	}

	now := c.ref.Now()
	var (
		state    *review.State
		mastered bool
	)

	txCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	err := c.store.WithinTx(txCtx, func(tx port.Tx) error {
		s, err := tx.Reviews().Get(txCtx, userID, itemID)
		if shared.IsNotFound(err) {
			s, err = review.NewState(userID, itemID, now)
		}
		if err != nil {
			return err
		}

		res, err := review.Schedule(quality, s.Prior(), now)
		if err != nil {
			return err
		}
		became := s.Apply(res, now)

		if err := tx.Reviews().Upsert(txCtx, s); err != nil {
			return err
		}

		md := activity.Metadata{activity.KeyItemID: itemID}
		ev, err := activity.NewEvent(userID, activity.CategoryReview, quality >= review.PassQuality, now, md)
		if err != nil {
			return err
		}
		if err := tx.Activity().Append(txCtx, ev); err != nil {
			return err
		}

		if became {
			ev, err := activity.NewEvent(userID, activity.CategoryWordsMastered, true, now, md)
			if err != nil {
				return err
			}
			if err := tx.Activity().Append(txCtx, ev); err != nil {
				return err
			}
		}

		state, mastered = s, became
		return nil
	})
	cancel()
	if err != nil {
		return nil, err
	}

	c.log.Debug("review recorded",
		logger.UserID(userID),
		logger.ItemID(itemID),
		logger.Int("quality", quality),
		logger.Int("interval", state.Interval),
		logger.String("status", string(state.Status)),
	)

	out := &ReviewOutcome{State: state, Mastered: mastered}
	out.Awards = c.after.progress(ctx, userID, activity.CategoryReview)
	if mastered {
		out.Awards = append(out.Awards, c.after.progress(ctx, userID, activity.CategoryWordsMastered)...)
	}
	out.Streak = c.after.day(ctx, userID)
	if out.Streak != nil {
		out.Awards = append(out.Awards, out.Streak.Milestones...)
	}
	return out, nil
}

// Unlearn deletes the review state of itemID. Activity already logged for
// the item stays.
func (c *RecordReview) Unlearn(ctx context.Context, userID, itemID string) error {
	if err := shared.ValidateUserID("review", "Unlearn", userID); err != nil {
		return err
	}
	if itemID == "" {
		return shared.Validation("review", "Unlearn", "item id cannot be empty")
	}

	ctx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	defer cancel()
	return c.store.Reviews().Delete(ctx, userID, itemID)
}

// DueItems lists the items due now, most overdue first. A non-positive
// limit uses DefaultDueLimit.
func (c *RecordReview) DueItems(ctx context.Context, userID string, limit int) ([]*review.State, error) {
	if err := shared.ValidateUserID("review", "DueItems", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultDueLimit
	}

	ctx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	defer cancel()
	return c.store.Reviews().Due(ctx, userID, c.ref.Now(), limit)
}
