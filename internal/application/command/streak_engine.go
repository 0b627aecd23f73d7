package command

import (
	"context"
	"errors"
	"time"

	"github.com/linguaquest/progression/config"
	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/saga"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/retry"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK ENGINE
// Counts consecutive reference-zone days with qualifying activity. The
// transition is pure (streak.Advance); the write is a compare-and-swap on
// Version, so two requests on the same day count it once.
// ══════════════════════════════════════════════════════════════════════════════

// StreakEngineConfig contains configuration for the streak engine.
type StreakEngineConfig struct {
	// StoreTimeout bounds every store call and transaction.
	StoreTimeout time.Duration

	// CASAttempts bounds re-reads after a lost compare-and-swap.
	CASAttempts int
}

// StreakEngine records daily activity and grants streak milestones.
type StreakEngine struct {
	store    port.Store
	rewards  *saga.RewardLedger
	ref      *timeutil.Reference
	features port.FeatureGate
	runner   *advisory.Runner
	cas      *retry.Retrier
	log      *logger.Logger
	config   StreakEngineConfig
}

// NewStreakEngine creates a streak engine.
func NewStreakEngine(
	store port.Store,
	rewards *saga.RewardLedger,
	ref *timeutil.Reference,
	features port.FeatureGate,
	runner *advisory.Runner,
	log *logger.Logger,
	cfg StreakEngineConfig,
) *StreakEngine {
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = 5
	}
	if features == nil {
		features = port.AllFeatures{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StreakEngine{
		store:    store,
		rewards:  rewards,
		ref:      ref,
		features: features,
		runner:   runner,
		cas:      retry.CASRetrier(cfg.CASAttempts, func(err error) bool { return errors.Is(err, errStreakMoved) }),
		log:      log.With(logger.Component("streak_engine")),
		config:   cfg,
	}
}

var errStreakMoved = shared.Conflict("streak", "RecordDailyActivity", "streak changed concurrently")

// RecordDailyActivity counts today for userID. Repeated calls on the same
// day leave the streak unchanged. After a change the streak_milestone
// achievements are evaluated; their failure is logged and does not fail
// the call.
func (e *StreakEngine) RecordDailyActivity(ctx context.Context, userID string) (streak.Outcome, error) {
	const op = "RecordDailyActivity"
	if err := shared.ValidateUserID("streak", op, userID); err != nil {
		return streak.Outcome{}, err
	}

	today := e.ref.Today()
	allowFreeze := e.features.Enabled(config.FeatureStreakFreezes, userID)

	var (
		prev streak.State
		tr   streak.Transition
	)
	err := e.cas.Do(ctx, func(ctx context.Context) error {
		state, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		prev = *state
		tr = streak.Advance(*state, today, allowFreeze)
		if !tr.Changed() {
			return nil
		}
		return e.commit(ctx, tr, state.Version)
	})
	if err != nil {
		if errors.Is(err, errStreakMoved) {
			e.log.Warn("streak contention", logger.UserID(userID), logger.Err(err))
		}
		return streak.Outcome{}, err
	}

	out := streak.Outcome{
		Count:      tr.Next.Count,
		Best:       tr.Next.Best,
		Changed:    tr.Changed(),
		FreezeUsed: tr.FreezeUsed,
	}
	if !out.Changed {
		return out, nil
	}

	e.log.Debug("streak updated",
		logger.UserID(userID),
		logger.Int("count", out.Count),
		logger.String("kind", string(tr.Kind)),
	)
	e.publish(userID, prev, tr)

	if e.rewards != nil && e.runner != nil {
		res := advisory.Collect(ctx, e.runner, "streak.milestones", func(ctx context.Context) ([]reward.Award, error) {
			return e.rewards.Evaluate(ctx, userID, activity.CategoryStreakMilestone, out.Count)
		})
		out.Milestones = res.Value
	}
	return out, nil
}

// GrantFreeze adds n freezes to the user's streak and returns the new
// freeze count.
func (e *StreakEngine) GrantFreeze(ctx context.Context, userID string, n int) (int, error) {
	const op = "GrantFreeze"
	if err := shared.ValidateUserID("streak", op, userID); err != nil {
		return 0, err
	}
	if err := shared.ValidatePositive("streak", op, "freezes", int64(n)); err != nil {
		return 0, err
	}

	ctx, cancel := port.Bounded(ctx, e.config.StoreTimeout)
	defer cancel()

	freezes, err := e.store.Streaks().AddFreezes(ctx, userID, n)
	if err != nil {
		return 0, err
	}
	e.log.Info("streak freezes granted", logger.UserID(userID), logger.Int("freezes", freezes))
	return freezes, nil
}

// Get returns the streak of userID. Users that were never active get a
// zero streak.
func (e *StreakEngine) Get(ctx context.Context, userID string) (*streak.State, error) {
	if err := shared.ValidateUserID("streak", "Get", userID); err != nil {
		return nil, err
	}

	ctx, cancel := port.Bounded(ctx, e.config.StoreTimeout)
	defer cancel()

	s, err := e.store.Streaks().Get(ctx, userID)
	if shared.IsNotFound(err) {
		return &streak.State{UserID: userID}, nil
	}
	return s, err
}

// load reads the state, creating an empty row on first use so that the
// compare-and-swap always has a version to match.
func (e *StreakEngine) load(ctx context.Context, userID string) (*streak.State, error) {
	ctx, cancel := port.Bounded(ctx, e.config.StoreTimeout)
	defer cancel()

	s, err := e.store.Streaks().Get(ctx, userID)
	if !shared.IsNotFound(err) {
		return s, err
	}
	if _, err := e.store.Streaks().Insert(ctx, &streak.State{UserID: userID, UpdatedAt: e.ref.Now()}); err != nil {
		return nil, err
	}
	return e.store.Streaks().Get(ctx, userID)
}

// commit writes the transition and the day's daily_activity event together.
func (e *StreakEngine) commit(ctx context.Context, tr streak.Transition, version int64) error {
	ctx, cancel := port.Bounded(ctx, e.config.StoreTimeout)
	defer cancel()

	now := e.ref.Now()
	next := tr.Next
	next.UpdatedAt = now

	return e.store.WithinTx(ctx, func(tx port.Tx) error {
		applied, err := tx.Streaks().CompareAndSwap(ctx, &next, version)
		if err != nil {
			return err
		}
		if !applied {
			return errStreakMoved
		}

		ev, err := activity.NewEvent(next.UserID, activity.CategoryDailyActivity, true, now, nil)
		if err != nil {
			return err
		}
		return tx.Activity().Append(ctx, ev)
	})
}

func (e *StreakEngine) publish(userID string, prev streak.State, tr streak.Transition) {
	if e.runner == nil {
		return
	}
	eventType := shared.EventStreakAdvanced
	if tr.Kind == streak.KindRestarted {
		eventType = shared.EventStreakBroken
	}
	e.runner.Publish(shared.StreakEvent{
		BaseEvent:  shared.NewBaseEvent(eventType, userID, e.ref.Now()),
		UserID:     userID,
		Count:      tr.Next.Count,
		Previous:   prev.Count,
		FreezeUsed: tr.FreezeUsed,
	})
}
