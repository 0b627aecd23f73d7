package projections

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/infrastructure/messaging"
)

var day = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func granted(user, key string, coins int64, at time.Time) shared.RewardGrantedEvent {
	return shared.RewardGrantedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventRewardGranted, user, at),
		UserID:    user,
		Key:       key,
		Category:  "review",
		Target:    1,
		Coins:     coins,
	}
}

func streakEvent(t shared.EventType, user string, count int, freeze bool, at time.Time) shared.StreakEvent {
	return shared.StreakEvent{
		BaseEvent:  shared.NewBaseEvent(t, user, at),
		UserID:     user,
		Count:      count,
		FreezeUsed: freeze,
	}
}

func settled(creator, challenger string, winner *string) shared.MatchEvent {
	return shared.MatchEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventMatchSettled, "m-1", day),
		CreatorID:    creator,
		ChallengerID: challenger,
		BetAmount:    10,
		WinnerID:     winner,
	}
}

func TestProgressCardView_Rewards(t *testing.T) {
	v := NewProgressCardView()

	for i, key := range []string{"first_review", "ten_reviews", "first_match", "streak_3"} {
		require.NoError(t, v.Handle(granted("alice", key, 5, day.Add(time.Duration(i)*time.Hour))))
	}
	// Replayed grants do not double count.
	require.NoError(t, v.Handle(granted("alice", "first_review", 5, day)))

	card, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, card.Achievements, 4)
	assert.Equal(t, int64(20), card.CoinsFromRewards)
	require.Len(t, card.RecentAchievements, 3)
	assert.Equal(t, "streak_3", card.RecentAchievements[0].Key)
	assert.Equal(t, "ten_reviews", card.RecentAchievements[2].Key)
}

func TestProgressCardView_Streaks(t *testing.T) {
	v := NewProgressCardView()

	require.NoError(t, v.Handle(streakEvent(shared.EventStreakAdvanced, "alice", 1, false, day)))
	require.NoError(t, v.Handle(streakEvent(shared.EventStreakAdvanced, "alice", 2, false, day.AddDate(0, 0, 1))))
	require.NoError(t, v.Handle(streakEvent(shared.EventStreakAdvanced, "alice", 3, true, day.AddDate(0, 0, 3))))
	require.NoError(t, v.Handle(streakEvent(shared.EventStreakBroken, "alice", 1, false, day.AddDate(0, 0, 6))))
	require.NoError(t, v.Handle(streakEvent(shared.EventStreakAdvanced, "bob", 2, false, day)))

	card, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, card.CurrentStreak)
	assert.Equal(t, 3, card.BestStreak)
	assert.Equal(t, 1, card.FreezesUsed)
	assert.Equal(t, 1, card.StreakBreaks)

	top, err := v.TopStreaks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "bob", top[0].UserID)
}

func TestProgressCardView_Matches(t *testing.T) {
	v := NewProgressCardView()
	alice := "alice"

	require.NoError(t, v.Handle(settled("alice", "bob", &alice)))
	require.NoError(t, v.Handle(settled("bob", "alice", nil)))

	a, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, a.MatchesPlayed)
	assert.Equal(t, 1, a.MatchesWon)
	assert.Equal(t, 1, a.MatchesDrawn)

	b, err := v.Get(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, b.MatchesPlayed)
	assert.Equal(t, 0, b.MatchesWon)
}

func TestProgressCardView_IgnoresOtherEvents(t *testing.T) {
	v := NewProgressCardView()

	created := settled("alice", "", nil)
	created.Type = shared.EventMatchCreated
	require.NoError(t, v.Handle(created))

	assert.Equal(t, 0, v.Count())
	assert.Equal(t, int64(1), v.GetVersion())
	assert.Error(t, v.Handle(nil))
}

func TestProgressCardView_GetReturnsCopy(t *testing.T) {
	v := NewProgressCardView()
	require.NoError(t, v.Handle(granted("alice", "first_review", 5, day)))

	card, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	card.Achievements[0].Key = "mutated"

	again, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "first_review", again.Achievements[0].Key)

	_, err = v.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProgressCardView_FedByBus(t *testing.T) {
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	defer bus.Close()

	v := NewProgressCardView()
	require.NoError(t, v.Register(bus))

	require.NoError(t, bus.Publish(granted("alice", "first_review", 5, day)))
	require.NoError(t, bus.Publish(streakEvent(shared.EventStreakAdvanced, "alice", 1, false, day)))

	card, err := v.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, card.CurrentStreak)
	assert.Len(t, card.Achievements, 1)
	assert.True(t, day.Equal(v.GetLastUpdated()))
}
