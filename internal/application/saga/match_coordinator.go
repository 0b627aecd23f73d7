package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/config"
	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MATCH COORDINATOR SAGA
// Flow: Create (escrow creator bet) → Join (escrow challenger bet) →
//
//	Submit Scores → Settle (payout or refund, pvp_wins) → Evaluate Rewards
//
// Every status change is a conditional transition, so concurrent callers
// agree on one outcome and coins move exactly once. Escrow debits and
// payouts commit in the same transaction as the transition that causes
// them.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitResult is the outcome of one score submission.
type SubmitResult struct {
	// Settled is true only for the submission whose settlement applied.
	Settled bool

	// WinnerID is the winner of a finished match, nil on a tie or while the
	// match is still active.
	WinnerID *string

	// Match is the match after the submission.
	Match *match.Match

	// Awards lists pvp_wins rewards granted to the winner by this call.
	Awards []reward.Award
}

// MatchCoordinatorConfig contains configuration for the coordinator.
type MatchCoordinatorConfig struct {
	// StoreTimeout bounds every store call and transaction.
	StoreTimeout time.Duration

	// MaxBet caps a single bet. Zero means no cap.
	MaxBet int64

	// ExpireBatch is how many stale matches one ExpireStale call handles.
	ExpireBatch int
}

// DefaultMatchCoordinatorConfig returns sensible defaults.
func DefaultMatchCoordinatorConfig() MatchCoordinatorConfig {
	return MatchCoordinatorConfig{
		StoreTimeout: 2 * time.Second,
		ExpireBatch:  100,
	}
}

// MatchCoordinator runs PvP matches from creation to settlement.
type MatchCoordinator struct {
	// Dependencies
	store    port.Store
	rewards  *RewardLedger
	counters *query.EventCounters
	ref      *timeutil.Reference
	features port.FeatureGate
	runner   *advisory.Runner
	log      *logger.Logger

	// Configuration
	config MatchCoordinatorConfig
}

// NewMatchCoordinator creates a new coordinator.
func NewMatchCoordinator(
	store port.Store,
	rewards *RewardLedger,
	counters *query.EventCounters,
	ref *timeutil.Reference,
	features port.FeatureGate,
	runner *advisory.Runner,
	log *logger.Logger,
	cfg MatchCoordinatorConfig,
) *MatchCoordinator {
	if cfg.ExpireBatch <= 0 {
		cfg.ExpireBatch = DefaultMatchCoordinatorConfig().ExpireBatch
	}
	if features == nil {
		features = port.AllFeatures{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MatchCoordinator{
		store:    store,
		rewards:  rewards,
		counters: counters,
		ref:      ref,
		features: features,
		runner:   runner,
		log:      log.With(logger.Component("match_coordinator")),
		config:   cfg,
	}
}

// errTransitionLost rolls back a transaction whose conditional transition
// did not apply.
var errTransitionLost = shared.Conflict("match", "Transition", "match status changed")

// Create opens a match and moves the creator's bet into escrow.
func (c *MatchCoordinator) Create(ctx context.Context, creatorID string, bet int64, questions []string) (*match.Match, error) {
	const op = "Create"
	m, err := match.New(creatorID, bet, questions, c.ref.Now())
	if err != nil {
		return nil, err
	}
	if err := c.checkBet(op, creatorID, bet); err != nil {
		return nil, err
	}

	ctx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	defer cancel()

	err = c.store.WithinTx(ctx, func(tx port.Tx) error {
		if err := tx.Matches().Create(ctx, m); err != nil {
			return err
		}
		return c.escrow(ctx, tx, m, creatorID)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("match created", logger.MatchID(m.ID.String()), logger.UserID(creatorID), logger.Coins(bet))
	c.publish(shared.EventMatchCreated, m)
	return m, nil
}

// Join makes challengerID the second player and escrows the same bet.
// Joining one's own match is a validation error and joining a match that
// is no longer open is a conflict; both return the current match.
func (c *MatchCoordinator) Join(ctx context.Context, matchID uuid.UUID, challengerID string) (*match.Match, error) {
	const op = "Join"
	if err := shared.ValidateUserID("match", op, challengerID); err != nil {
		return nil, err
	}

	m, err := c.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.CreatorID == challengerID {
		return m, shared.Validation("match", op, "cannot join your own match")
	}
	if m.ChallengerID == challengerID && m.Status != match.StatusOpen {
		// A retried join that already went through.
		return m, nil
	}
	if m.Status != match.StatusOpen {
		return m, shared.Conflict("match", op, "match is not open")
	}
	if err := c.checkBet(op, challengerID, m.BetAmount); err != nil {
		return m, err
	}

	txCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	now := c.ref.Now()
	err = c.store.WithinTx(txCtx, func(tx port.Tx) error {
		applied, err := tx.Matches().Transition(txCtx, matchID, match.StatusOpen, match.StatusActive, match.Patch{
			ChallengerID: challengerID,
			At:           now,
		})
		if err != nil {
			return err
		}
		if !applied {
			return errTransitionLost
		}
		return c.escrow(txCtx, tx, m, challengerID)
	})
	cancel()

	if errors.Is(err, errTransitionLost) {
		current, getErr := c.Get(ctx, matchID)
		if getErr != nil {
			return nil, getErr
		}
		if current.ChallengerID == challengerID {
			return current, nil
		}
		return current, shared.Conflict("match", op, "match is full")
	}
	if err != nil {
		return m, err
	}

	joined, err := c.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	c.log.Info("match joined", logger.MatchID(matchID.String()), logger.UserID(challengerID))
	c.publish(shared.EventMatchJoined, joined)
	return joined, nil
}

// SubmitScore stores playerID's score and settles the match once both
// scores are in. Submitting the same score again is a retry and succeeds;
// a different score is a conflict.
func (c *MatchCoordinator) SubmitScore(ctx context.Context, matchID uuid.UUID, playerID string, score int) (SubmitResult, error) {
	const op = "SubmitScore"
	if err := shared.ValidateUserID("match", op, playerID); err != nil {
		return SubmitResult{}, err
	}
	if score < 0 {
		return SubmitResult{}, shared.Validation("match", op, "score cannot be negative")
	}

	m, err := c.Get(ctx, matchID)
	if err != nil {
		return SubmitResult{}, err
	}
	side, ok := m.SideOf(playerID)
	if !ok {
		return SubmitResult{Match: m}, shared.Validation("match", op, "player is not in this match")
	}

	if existing := m.Score(side); existing != nil {
		if *existing != score {
			return SubmitResult{Match: m, WinnerID: m.WinnerID}, shared.Conflict("match", op, "score already submitted")
		}
	} else {
		if m.Status != match.StatusActive {
			return SubmitResult{Match: m, WinnerID: m.WinnerID}, shared.Conflict("match", op, "match is not active")
		}
		if m, err = c.storeScore(ctx, m, side, score); err != nil {
			return SubmitResult{Match: m}, err
		}
	}

	if m.Status != match.StatusActive || !m.HasBothScores() {
		return SubmitResult{Match: m, WinnerID: m.WinnerID}, nil
	}
	return c.settle(ctx, m)
}

// Cancel closes an open match. Only the creator may cancel; the escrowed
// bet is refunded in the same transaction.
func (c *MatchCoordinator) Cancel(ctx context.Context, matchID uuid.UUID, requesterID string) (*match.Match, error) {
	const op = "Cancel"
	m, err := c.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.CreatorID != requesterID {
		return m, shared.Validation("match", op, "only the creator can cancel")
	}
	if m.Status == match.StatusCancelled {
		return m, nil
	}
	if m.Status != match.StatusOpen {
		return m, shared.Conflict("match", op, "only open matches can be cancelled")
	}

	txCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	err = c.store.WithinTx(txCtx, func(tx port.Tx) error {
		applied, err := tx.Matches().Transition(txCtx, matchID, match.StatusOpen, match.StatusCancelled, match.Patch{At: c.ref.Now()})
		if err != nil {
			return err
		}
		if !applied {
			return errTransitionLost
		}
		return c.refund(txCtx, tx, m, m.CreatorID)
	})
	cancel()

	current, getErr := c.Get(ctx, matchID)
	if getErr != nil {
		return nil, getErr
	}
	if errors.Is(err, errTransitionLost) {
		if current.Status == match.StatusCancelled {
			return current, nil
		}
		return current, shared.Conflict("match", op, "match was joined")
	}
	if err != nil {
		return current, err
	}

	c.log.Info("match cancelled", logger.MatchID(matchID.String()), logger.UserID(requesterID))
	c.publish(shared.EventMatchCancelled, current)
	return current, nil
}

// ExpireStale cancels active matches untouched for longer than olderThan
// and refunds both bets. It returns how many matches it expired.
func (c *MatchCoordinator) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, shared.Validation("match", "ExpireStale", "age must be positive")
	}
	before := c.ref.Now().Add(-olderThan)

	listCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	stale, err := c.store.Matches().ListStale(listCtx, match.StatusActive, before, c.config.ExpireBatch)
	cancel()
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, m := range stale {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		ok, err := c.expire(ctx, m)
		if err != nil {
			c.log.Warn("match expiry failed", logger.MatchID(m.ID.String()), logger.Err(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		c.log.Info("expired abandoned matches", logger.Int("count", expired))
	}
	return expired, errors.Join(errs...)
}

// Get returns a match by ID.
func (c *MatchCoordinator) Get(ctx context.Context, matchID uuid.UUID) (*match.Match, error) {
	ctx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	defer cancel()
	return c.store.Matches().Get(ctx, matchID)
}

// ══════════════════════════════════════════════════════════════════════════════
// STEPS
// ══════════════════════════════════════════════════════════════════════════════

func (c *MatchCoordinator) checkBet(op, userID string, bet int64) error {
	if bet == 0 {
		return nil
	}
	if c.config.MaxBet > 0 && bet > c.config.MaxBet {
		return shared.Validation("match", op, "bet above the maximum")
	}
	if !c.features.Enabled(config.FeaturePvPBets, userID) {
		return shared.Validation("match", op, "bets are disabled")
	}
	return nil
}

// storeScore writes the score set-if-null and returns the fresh match.
func (c *MatchCoordinator) storeScore(ctx context.Context, m *match.Match, side match.Side, score int) (*match.Match, error) {
	const op = "SubmitScore"

	writeCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	applied, err := c.store.Matches().SetScore(writeCtx, m.ID, side, score, c.ref.Now())
	cancel()
	if err != nil {
		return m, err
	}

	current, err := c.Get(ctx, m.ID)
	if err != nil {
		return m, err
	}
	if applied {
		return current, nil
	}

	// Lost to a concurrent write: either our own retry or a status change.
	if stored := current.Score(side); stored != nil {
		if *stored == score {
			return current, nil
		}
		return current, shared.Conflict("match", op, "score already submitted")
	}
	return current, shared.Conflict("match", op, "match is not active")
}

// settle finishes an active match with both scores. Exactly one caller's
// transition applies; the others get Settled=false and the finished match.
func (c *MatchCoordinator) settle(ctx context.Context, m *match.Match) (SubmitResult, error) {
	winner := m.Winner()
	now := c.ref.Now()

	txCtx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	err := c.store.WithinTx(txCtx, func(tx port.Tx) error {
		applied, err := tx.Matches().Transition(txCtx, m.ID, match.StatusActive, match.StatusFinished, match.Patch{
			WinnerID:      winner,
			SettledAt:     &now,
			RequireScores: true,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !applied {
			return errTransitionLost
		}
		return c.payout(txCtx, tx, m, winner, now)
	})
	cancel()

	settled := err == nil
	if err != nil && !errors.Is(err, errTransitionLost) {
		return SubmitResult{Match: m}, err
	}

	current, getErr := c.Get(ctx, m.ID)
	if getErr != nil {
		return SubmitResult{Settled: settled, WinnerID: winner}, getErr
	}
	res := SubmitResult{Settled: settled, WinnerID: current.WinnerID, Match: current}
	if !settled {
		return res, nil
	}

	c.log.Info("match settled",
		logger.MatchID(m.ID.String()),
		logger.Bool("tie", winner == nil),
		logger.Coins(m.BetAmount),
	)
	c.publish(shared.EventMatchSettled, current)

	if winner != nil && c.rewards != nil && c.runner != nil {
		wins := advisory.Collect(ctx, c.runner, "evaluate.pvp_wins", func(ctx context.Context) ([]reward.Award, error) {
			total, err := c.counters.Total(ctx, *winner, activity.CategoryPvPWins)
			if err != nil {
				return nil, err
			}
			return c.rewards.Evaluate(ctx, *winner, activity.CategoryPvPWins, total)
		})
		res.Awards = wins.Value
	}
	return res, nil
}

// payout moves escrow after a settlement: 2x bet to the winner, or each bet
// back on a tie. The winner's pvp_wins event is part of the same write.
func (c *MatchCoordinator) payout(ctx context.Context, tx port.Tx, m *match.Match, winner *string, at time.Time) error {
	if winner == nil {
		if err := c.refund(ctx, tx, m, m.CreatorID); err != nil {
			return err
		}
		return c.refund(ctx, tx, m, m.ChallengerID)
	}

	if m.BetAmount > 0 {
		_, _, err := tx.Coins().Apply(ctx, coin.Entry{
			UserID:         *winner,
			Delta:          2 * m.BetAmount,
			Reason:         coin.ReasonMatchPayout,
			IdempotencyKey: coin.IdempotencyKey("match", m.ID.String(), "payout"),
		})
		if err != nil {
			return err
		}
	}

	ev, err := activity.NewEvent(*winner, activity.CategoryPvPWins, true, at, activity.Metadata{
		activity.KeyMatchID: m.ID.String(),
	})
	if err != nil {
		return err
	}
	return tx.Activity().Append(ctx, ev)
}

func (c *MatchCoordinator) escrow(ctx context.Context, tx port.Tx, m *match.Match, userID string) error {
	if m.BetAmount == 0 {
		return nil
	}
	_, _, err := tx.Coins().Apply(ctx, coin.Entry{
		UserID:         userID,
		Delta:          -m.BetAmount,
		Reason:         coin.ReasonMatchEscrow,
		IdempotencyKey: coin.IdempotencyKey("match", m.ID.String(), "escrow", userID),
	})
	return err
}

func (c *MatchCoordinator) refund(ctx context.Context, tx port.Tx, m *match.Match, userID string) error {
	if m.BetAmount == 0 || userID == "" {
		return nil
	}
	_, _, err := tx.Coins().Apply(ctx, coin.Entry{
		UserID:         userID,
		Delta:          m.BetAmount,
		Reason:         coin.ReasonMatchRefund,
		IdempotencyKey: coin.IdempotencyKey("match", m.ID.String(), "refund", userID),
	})
	return err
}

func (c *MatchCoordinator) expire(ctx context.Context, m *match.Match) (bool, error) {
	ctx, cancel := port.Bounded(ctx, c.config.StoreTimeout)
	defer cancel()

	err := c.store.WithinTx(ctx, func(tx port.Tx) error {
		applied, err := tx.Matches().Transition(ctx, m.ID, match.StatusActive, match.StatusCancelled, match.Patch{At: c.ref.Now()})
		if err != nil {
			return err
		}
		if !applied {
			return errTransitionLost
		}
		if err := c.refund(ctx, tx, m, m.CreatorID); err != nil {
			return err
		}
		return c.refund(ctx, tx, m, m.ChallengerID)
	})
	if errors.Is(err, errTransitionLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.log.Info("match expired", logger.MatchID(m.ID.String()))
	m.Status = match.StatusCancelled
	c.publish(shared.EventMatchCancelled, m)
	return true, nil
}

func (c *MatchCoordinator) publish(eventType shared.EventType, m *match.Match) {
	if c.runner == nil {
		return
	}
	c.runner.Publish(shared.MatchEvent{
		BaseEvent:    shared.NewBaseEvent(eventType, m.ID.String(), c.ref.Now()),
		CreatorID:    m.CreatorID,
		ChallengerID: m.ChallengerID,
		BetAmount:    m.BetAmount,
		WinnerID:     m.WinnerID,
	})
}
