// Package saga contains complex business processes that orchestrate
// multiple domain operations in a coordinated manner.
package saga

import (
	"context"
	"time"

	"github.com/linguaquest/progression/config"
	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/pkg/logger"
	"github.com/linguaquest/progression/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD LEDGER
// Flow: Load Catalog → Load Record → Grant (credit + mark, one transaction)
//
//	or Record Progress → Publish Events
//
// A reward key is granted at most once per user. The coin credit and the
// AchievedAt stamp commit together; if the stamp was already set the whole
// transaction rolls back and the grant counts as done.
// ══════════════════════════════════════════════════════════════════════════════

// CatalogProvider returns the current reward catalog.
type CatalogProvider interface {
	Get(ctx context.Context) (*reward.Catalog, error)
}

// RewardLedgerStep represents a step in one evaluation.
type RewardLedgerStep string

const (
	StepLoadCatalog    RewardLedgerStep = "load_catalog"
	StepLoadRecord     RewardLedgerStep = "load_record"
	StepGrant          RewardLedgerStep = "grant"
	StepRecordProgress RewardLedgerStep = "record_progress"
	StepCountPeriod    RewardLedgerStep = "count_period"
)

// RewardLedgerConfig contains configuration for the ledger.
type RewardLedgerConfig struct {
	// StoreTimeout bounds every store call and transaction.
	StoreTimeout time.Duration
}

// RewardLedger grants threshold achievements and quests.
type RewardLedger struct {
	// Dependencies
	store    port.Store
	catalog  CatalogProvider
	counters *query.EventCounters
	ref      *timeutil.Reference
	features port.FeatureGate
	runner   *advisory.Runner
	log      *logger.Logger

	// Configuration
	config RewardLedgerConfig
}

// NewRewardLedger creates a new reward ledger.
func NewRewardLedger(
	store port.Store,
	catalog CatalogProvider,
	counters *query.EventCounters,
	ref *timeutil.Reference,
	features port.FeatureGate,
	runner *advisory.Runner,
	log *logger.Logger,
	cfg RewardLedgerConfig,
) *RewardLedger {
	if features == nil {
		features = port.AllFeatures{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RewardLedger{
		store:    store,
		catalog:  catalog,
		counters: counters,
		ref:      ref,
		features: features,
		runner:   runner,
		log:      log.With(logger.Component("reward_ledger")),
		config:   cfg,
	}
}

// errAlreadyGranted rolls a grant transaction back when the record was
// achieved concurrently.
var errAlreadyGranted = shared.Conflict("reward", "Grant", "reward already granted")

// Evaluate grants every achievement on category whose target is at or
// below currentValue and records progress on the rest. Crossed thresholds
// are granted in ascending target order. A second call with the same value
// grants nothing.
func (l *RewardLedger) Evaluate(ctx context.Context, userID string, category activity.Category, currentValue int) ([]reward.Award, error) {
	const op = "Evaluate"
	if err := shared.ValidateUserID("reward", op, userID); err != nil {
		return nil, err
	}
	if err := reward.ValidateCategory(op, category); err != nil {
		return nil, err
	}
	if err := shared.ValidateNonNegative("reward", op, "current value", int64(currentValue)); err != nil {
		return nil, err
	}
	if !l.features.Enabled(config.FeatureAchievements, userID) {
		return nil, nil
	}

	cat, err := l.catalog.Get(ctx)
	if err != nil {
		return nil, stepError(StepLoadCatalog, err)
	}

	awards, err := l.evaluateDefinitions(ctx, userID, cat.ForCategory(category), currentValue, nil)
	l.publish(userID, awards)
	return awards, err
}

// EvaluateQuests recomputes every quest on category for the current
// period and grants the completed ones. Each granted quest appends a
// quests_completed event and the quests_completed achievements are then
// evaluated against the new total.
func (l *RewardLedger) EvaluateQuests(ctx context.Context, userID string, category activity.Category) ([]reward.Award, error) {
	const op = "EvaluateQuests"
	if err := shared.ValidateUserID("reward", op, userID); err != nil {
		return nil, err
	}
	if !category.IsEventCategory() {
		return nil, shared.Validation("reward", op, "unknown event category "+string(category))
	}
	if !l.features.Enabled(config.FeatureQuests, userID) {
		return nil, nil
	}

	cat, err := l.catalog.Get(ctx)
	if err != nil {
		return nil, stepError(StepLoadCatalog, err)
	}

	now := l.ref.Now()
	var awards []reward.Award
	for _, q := range cat.QuestsFor(category) {
		start := l.periodStart(q.Period, now)

		count, err := l.counters.Count(ctx, userID, category, start)
		if err != nil {
			l.publish(userID, awards)
			return awards, stepError(StepCountPeriod, err)
		}

		quest := q
		onGrant := func(ctx context.Context, tx port.Tx, at time.Time) error {
			ev, err := activity.NewEvent(userID, activity.CategoryQuestsCompleted, true, at, activity.Metadata{
				activity.KeyQuestID:     quest.ID,
				activity.KeyPeriodStart: l.ref.FormatDate(start),
			})
			if err != nil {
				return err
			}
			return tx.Activity().Append(ctx, ev)
		}

		granted, err := l.evaluateDefinitions(ctx, userID, []reward.Definition{q.Definition(start)}, count, onGrant)
		awards = append(awards, granted...)
		if err != nil {
			l.publish(userID, awards)
			return awards, err
		}
	}
	l.publish(userID, awards)

	if len(awards) == 0 {
		return nil, nil
	}

	total, err := l.counters.Total(ctx, userID, activity.CategoryQuestsCompleted)
	if err != nil {
		return awards, stepError(StepCountPeriod, err)
	}
	chained, err := l.Evaluate(ctx, userID, activity.CategoryQuestsCompleted, total)
	return append(awards, chained...), err
}

// Progress lists the reward records of a user.
func (l *RewardLedger) Progress(ctx context.Context, userID string) ([]*reward.Record, error) {
	if err := shared.ValidateUserID("reward", "Progress", userID); err != nil {
		return nil, err
	}
	ctx, cancel := port.Bounded(ctx, l.config.StoreTimeout)
	defer cancel()
	return l.store.Rewards().List(ctx, userID)
}

// ══════════════════════════════════════════════════════════════════════════════
// STEPS
// ══════════════════════════════════════════════════════════════════════════════

type grantHook func(ctx context.Context, tx port.Tx, at time.Time) error

// evaluateDefinitions walks defs in ascending target order. It stops at the
// first store failure; grants made before it stay committed and a retry
// continues where this call stopped.
func (l *RewardLedger) evaluateDefinitions(ctx context.Context, userID string, defs []reward.Definition, value int, onGrant grantHook) ([]reward.Award, error) {
	var awards []reward.Award

	for _, def := range defs {
		rec, err := l.loadRecord(ctx, userID, def.Key)
		if err != nil {
			return awards, stepError(StepLoadRecord, err)
		}
		if rec.IsAchieved() {
			continue
		}

		if def.Target <= value {
			award, granted, err := l.grant(ctx, userID, def, onGrant)
			if err != nil {
				return awards, stepError(StepGrant, err)
			}
			if granted {
				awards = append(awards, award)
			}
			continue
		}

		progress := value
		if rec != nil && rec.Progress == progress && rec.Target == def.Target {
			continue
		}
		if err := l.recordProgress(ctx, userID, def, progress); err != nil {
			return awards, stepError(StepRecordProgress, err)
		}
	}
	return awards, nil
}

func (l *RewardLedger) loadRecord(ctx context.Context, userID, key string) (*reward.Record, error) {
	ctx, cancel := port.Bounded(ctx, l.config.StoreTimeout)
	defer cancel()

	rec, err := l.store.Rewards().Get(ctx, userID, key)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	return rec, err
}

// grant credits the coins and stamps the record in one transaction.
func (l *RewardLedger) grant(ctx context.Context, userID string, def reward.Definition, onGrant grantHook) (reward.Award, bool, error) {
	ctx, cancel := port.Bounded(ctx, l.config.StoreTimeout)
	defer cancel()

	now := l.ref.Now()
	err := l.store.WithinTx(ctx, func(tx port.Tx) error {
		if def.Coins > 0 {
			_, _, err := tx.Coins().Apply(ctx, coin.Entry{
				UserID:         userID,
				Delta:          def.Coins,
				Reason:         coin.ReasonReward,
				IdempotencyKey: coin.IdempotencyKey(string(coin.ReasonReward), userID, def.Key),
			})
			if err != nil {
				return err
			}
		}

		applied, err := tx.Rewards().MarkAchieved(ctx, userID, def.Key, def.Category, def.Target, now)
		if err != nil {
			return err
		}
		if !applied {
			return errAlreadyGranted
		}

		if onGrant != nil {
			return onGrant(ctx, tx, now)
		}
		return nil
	})
	if shared.IsConflict(err) {
		l.log.Debug("reward already granted", logger.UserID(userID), logger.RewardKey(def.Key))
		return reward.Award{}, false, nil
	}
	if err != nil {
		return reward.Award{}, false, err
	}

	l.log.Info("reward granted",
		logger.UserID(userID),
		logger.RewardKey(def.Key),
		logger.Category(string(def.Category)),
		logger.Coins(def.Coins),
	)
	return reward.Award{
		Key:        def.Key,
		Category:   def.Category,
		Target:     def.Target,
		Coins:      def.Coins,
		Title:      def.Title,
		AchievedAt: now,
	}, true, nil
}

func (l *RewardLedger) recordProgress(ctx context.Context, userID string, def reward.Definition, progress int) error {
	ctx, cancel := port.Bounded(ctx, l.config.StoreTimeout)
	defer cancel()

	return l.store.Rewards().UpsertProgress(ctx, &reward.Record{
		UserID:    userID,
		Key:       def.Key,
		Category:  def.Category,
		Progress:  min(progress, def.Target),
		Target:    def.Target,
		UpdatedAt: l.ref.Now(),
	})
}

func (l *RewardLedger) periodStart(p reward.Period, now time.Time) time.Time {
	if p == reward.PeriodWeekly {
		return l.ref.StartOfWeek(now)
	}
	return l.ref.StartOfDay(now)
}

func (l *RewardLedger) publish(userID string, awards []reward.Award) {
	if l.runner == nil {
		return
	}
	for _, a := range awards {
		l.runner.Publish(shared.RewardGrantedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventRewardGranted, userID, a.AchievedAt),
			UserID:    userID,
			Key:       a.Key,
			Category:  string(a.Category),
			Target:    a.Target,
			Coins:     a.Coins,
		})
	}
}

// stepError adds the failed step to err while keeping its kind.
func stepError(step RewardLedgerStep, err error) error {
	if err == nil {
		return nil
	}
	return shared.WrapError("reward", string(step), shared.KindOf(err), "step failed", err)
}
