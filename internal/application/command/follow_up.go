package command

import (
	"context"

	"github.com/linguaquest/progression/internal/application/advisory"
	"github.com/linguaquest/progression/internal/application/query"
	"github.com/linguaquest/progression/internal/application/saga"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/streak"
)

// followUp is the advisory work after a learning action: recount the
// category, evaluate its achievements and quests, and record the day.
// Nothing here fails the action that triggered it.
type followUp struct {
	counters *query.EventCounters
	rewards  *saga.RewardLedger
	streaks  *StreakEngine
	runner   *advisory.Runner
}

// progress evaluates achievements and quests on category.
func (f followUp) progress(ctx context.Context, userID string, category activity.Category) []reward.Award {
	res := advisory.Collect(ctx, f.runner, "evaluate."+string(category), func(ctx context.Context) ([]reward.Award, error) {
		total, err := f.counters.Total(ctx, userID, category)
		if err != nil {
			return nil, err
		}
		return f.rewards.Evaluate(ctx, userID, category, total)
	})
	awards := res.Value

	quests := advisory.Collect(ctx, f.runner, "quests."+string(category), func(ctx context.Context) ([]reward.Award, error) {
		return f.rewards.EvaluateQuests(ctx, userID, category)
	})
	return append(awards, quests.Value...)
}

// day records the daily streak. A failed update reports nil.
func (f followUp) day(ctx context.Context, userID string) *streak.Outcome {
	res := advisory.Run(ctx, f.runner, "streak.daily", func(ctx context.Context) (streak.Outcome, error) {
		return f.streaks.RecordDailyActivity(ctx, userID)
	})
	if res.Failed() {
		return nil
	}
	return &res.Value
}
