// Package engine assembles the progression engine. It is the only place
// that wires components together; there are no package-level singletons.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/command"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/application/saga"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// Options holds the tunables of the engine.
type Options struct {
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration

	// StreakCASAttempts bounds streak compare-and-swap retries.
	StreakCASAttempts int

	// MaxBet caps PvP bets. Zero means no cap.
	MaxBet int64

	// AbandonAfter is the idle time after which an active match is expired.
	AbandonAfter time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		StoreTimeout:      2 * time.Second,
		StreakCASAttempts: 5,
		AbandonAfter:      24 * time.Hour,
	}
}

// Deps are the collaborators the engine is built from.
type Deps struct {
	Store     port.Store
	Catalog   saga.CatalogProvider
	Reference *timeutil.Reference
	Features  port.FeatureGate
	Events    shared.EventPublisher
	Logger    *logger.Logger
}

// Engine is the public entry point of the progression engine.
type Engine struct {
	ref  *timeutil.Reference
	opts Options
	log  *logger.Logger

	Counters  *query.EventCounters
	Rewards   *saga.RewardLedger
	Matches   *saga.MatchCoordinator
	Streaks   *command.StreakEngine
	Coins     *command.CoinLedger
	Reviews   *command.RecordReview
	Exercises *command.RecordExercise
}

// New wires every component over deps.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Store == nil {
		return nil, shared.Validation("engine", "New", "store is required")
	}
	if deps.Catalog == nil {
		return nil, shared.Validation("engine", "New", "catalog is required")
	}
	if deps.Reference == nil {
		deps.Reference = timeutil.NewReference(nil, time.UTC)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Features == nil {
		deps.Features = port.AllFeatures{}
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = DefaultOptions().AbandonAfter
	}

	runner := advisory.New(deps.Events, deps.Logger)
	counters := query.NewEventCounters(deps.Store.Activity(), opts.StoreTimeout)

	rewards := saga.NewRewardLedger(deps.Store, deps.Catalog, counters, deps.Reference, deps.Features, runner, deps.Logger,
		saga.RewardLedgerConfig{StoreTimeout: opts.StoreTimeout})

	streaks := command.NewStreakEngine(deps.Store, rewards, deps.Reference, deps.Features, runner, deps.Logger,
		command.StreakEngineConfig{StoreTimeout: opts.StoreTimeout, CASAttempts: opts.StreakCASAttempts})

	matches := saga.NewMatchCoordinator(deps.Store, rewards, counters, deps.Reference, deps.Features, runner, deps.Logger,
		saga.MatchCoordinatorConfig{StoreTimeout: opts.StoreTimeout, MaxBet: opts.MaxBet})

	return &Engine{
		ref:       deps.Reference,
		opts:      opts,
		log:       deps.Logger.With(logger.Component("engine")),
		Counters:  counters,
		Rewards:   rewards,
		Matches:   matches,
		Streaks:   streaks,
		Coins:     command.NewCoinLedger(deps.Store.Coins(), opts.StoreTimeout, deps.Logger),
		Reviews: command.NewRecordReview(deps.Store, deps.Reference, counters, rewards, streaks, runner, deps.Logger,
			command.RecordReviewConfig{StoreTimeout: opts.StoreTimeout}),
		Exercises: command.NewRecordExercise(deps.Store, deps.Reference, counters, rewards, streaks, runner, deps.Logger,
			command.RecordExerciseConfig{StoreTimeout: opts.StoreTimeout}),
	}, nil
}

// Reference returns the shared reference clock.
func (e *Engine) Reference() *timeutil.Reference { return e.ref }

// Schedule runs one scheduling step against the reference clock without
// storing anything.
func (e *Engine) Schedule(quality int, prior review.Prior) (review.Result, error) {
	return review.Schedule(quality, prior, e.ref.Now())
}

// RecordReview records a review; see command.RecordReview.
func (e *Engine) RecordReview(ctx context.Context, userID, itemID string, quality int) (*command.ReviewOutcome, error) {
	return e.Reviews.Execute(ctx, userID, itemID, quality)
}

// RecordExercise records an exercise attempt; see command.RecordExercise.
func (e *Engine) RecordExercise(ctx context.Context, userID string, skill activity.Skill, exerciseType string, success bool) (*command.ExerciseOutcome, error) {
	return e.Exercises.Execute(ctx, userID, skill, exerciseType, success)
}

// DueItems lists the review states due now.
func (e *Engine) DueItems(ctx context.Context, userID string, limit int) ([]*review.State, error) {
	return e.Reviews.DueItems(ctx, userID, limit)
}

// Unlearn drops the review state of one item.
func (e *Engine) Unlearn(ctx context.Context, userID, itemID string) error {
	return e.Reviews.Unlearn(ctx, userID, itemID)
}

// EvaluateRewards grants the achievements on category reached by
// currentValue.
func (e *Engine) EvaluateRewards(ctx context.Context, userID string, category activity.Category, currentValue int) ([]reward.Award, error) {
	return e.Rewards.Evaluate(ctx, userID, category, currentValue)
}

// EvaluateQuests grants the current-period quests on category.
func (e *Engine) EvaluateQuests(ctx context.Context, userID string, category activity.Category) ([]reward.Award, error) {
	return e.Rewards.EvaluateQuests(ctx, userID, category)
}

// RewardProgress lists the reward records of a user.
func (e *Engine) RewardProgress(ctx context.Context, userID string) ([]*reward.Record, error) {
	return e.Rewards.Progress(ctx, userID)
}

// RecordDailyActivity counts today in the user's streak.
func (e *Engine) RecordDailyActivity(ctx context.Context, userID string) (streak.Outcome, error) {
	return e.Streaks.RecordDailyActivity(ctx, userID)
}

// GrantFreeze adds streak freezes.
func (e *Engine) GrantFreeze(ctx context.Context, userID string, n int) (int, error) {
	return e.Streaks.GrantFreeze(ctx, userID, n)
}

// Streak returns the user's streak.
func (e *Engine) Streak(ctx context.Context, userID string) (*streak.State, error) {
	return e.Streaks.Get(ctx, userID)
}

// CreateMatch opens a PvP match.
func (e *Engine) CreateMatch(ctx context.Context, creatorID string, bet int64, questions []string) (*match.Match, error) {
	return e.Matches.Create(ctx, creatorID, bet, questions)
}

// JoinMatch joins an open match.
func (e *Engine) JoinMatch(ctx context.Context, matchID uuid.UUID, challengerID string) (*match.Match, error) {
	return e.Matches.Join(ctx, matchID, challengerID)
}

// SubmitScore stores a score and settles the match when both are in.
func (e *Engine) SubmitScore(ctx context.Context, matchID uuid.UUID, playerID string, score int) (saga.SubmitResult, error) {
	return e.Matches.SubmitScore(ctx, matchID, playerID, score)
}

// CancelMatch cancels an open match.
func (e *Engine) CancelMatch(ctx context.Context, matchID uuid.UUID, requesterID string) (*match.Match, error) {
	return e.Matches.Cancel(ctx, matchID, requesterID)
}

// GetMatch returns a match.
func (e *Engine) GetMatch(ctx context.Context, matchID uuid.UUID) (*match.Match, error) {
	return e.Matches.Get(ctx, matchID)
}

// ExpireAbandonedMatches cancels active matches idle for longer than the
// configured abandon time.
func (e *Engine) ExpireAbandonedMatches(ctx context.Context) (int, error) {
	return e.Matches.ExpireStale(ctx, e.opts.AbandonAfter)
}

// Balance returns the coin balance of a user.
func (e *Engine) Balance(ctx context.Context, userID string) (int64, error) {
	return e.Coins.Balance(ctx, userID)
}

// Credit adds coins outside of rewards and matches, for example purchases
// refunded by the shop.
func (e *Engine) Credit(ctx context.Context, userID string, amount int64, reason coin.Reason, idemKey string) (command.Receipt, error) {
	return e.Coins.Credit(ctx, userID, amount, reason, idemKey)
}

// Debit removes coins, for example a shop purchase.
func (e *Engine) Debit(ctx context.Context, userID string, amount int64, reason coin.Reason, idemKey string) (command.Receipt, error) {
	return e.Coins.Debit(ctx, userID, amount, reason, idemKey)
}
