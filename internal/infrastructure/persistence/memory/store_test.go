package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/application/port"
	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
)

var now = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func TestWithinTx_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx port.Tx) error {
		_, _, err := tx.Coins().Apply(ctx, coin.Entry{UserID: "u1", Delta: 50, IdempotencyKey: "k1"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := s.Coins().Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, bal)
	assert.Zero(t, s.JournalSize())
}

func TestWithinTx_CommitFault(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.FailOn(OpCommit, nil, 1)

	err := s.WithinTx(ctx, func(tx port.Tx) error {
		_, _, err := tx.Coins().Apply(ctx, coin.Entry{UserID: "u1", Delta: 50, IdempotencyKey: "k1"})
		return err
	})
	assert.True(t, shared.IsTransient(err))

	bal, _ := s.Coins().Balance(ctx, "u1")
	assert.Zero(t, bal)

	// The fault fired once; the retry commits.
	require.NoError(t, s.WithinTx(ctx, func(tx port.Tx) error {
		_, _, err := tx.Coins().Apply(ctx, coin.Entry{UserID: "u1", Delta: 50, IdempotencyKey: "k1"})
		return err
	}))
	bal, _ = s.Coins().Balance(ctx, "u1")
	assert.Equal(t, int64(50), bal)
}

func TestCoins_IdempotentAndConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	coins := s.Coins()

	bal, applied, err := coins.Apply(ctx, coin.Entry{UserID: "u1", Delta: 100, IdempotencyKey: "grant"})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(100), bal)

	bal, applied, err = coins.Apply(ctx, coin.Entry{UserID: "u1", Delta: 100, IdempotencyKey: "grant"})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(100), bal)

	_, _, err = coins.Apply(ctx, coin.Entry{UserID: "u1", Delta: -101, IdempotencyKey: "debit"})
	assert.ErrorIs(t, err, coin.ErrInsufficientFunds)

	bal, _ = coins.Balance(ctx, "u1")
	assert.Equal(t, int64(100), bal)
}

func TestRewards_MarkAchievedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	rewards := s.Rewards()

	applied, err := rewards.MarkAchieved(ctx, "u1", "vocab_100", activity.CategoryWordsMastered, 100, now)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = rewards.MarkAchieved(ctx, "u1", "vocab_100", activity.CategoryWordsMastered, 100, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)

	rec, err := rewards.Get(ctx, "u1", "vocab_100")
	require.NoError(t, err)
	assert.True(t, now.Equal(*rec.AchievedAt))
}

func TestStreaks_CompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Streaks()

	applied, err := repo.Insert(ctx, &streak.State{UserID: "u1"})
	require.NoError(t, err)
	require.True(t, applied)

	next := &streak.State{UserID: "u1", Count: 1, LastActiveDate: now}
	applied, err = repo.CompareAndSwap(ctx, next, 0)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.CompareAndSwap(ctx, next, 0)
	require.NoError(t, err)
	assert.False(t, applied)

	freezes, err := repo.AddFreezes(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, freezes)

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 1, got.Count)
}

func TestMatches_ConditionalTransitions(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Matches()

	m, err := match.New("alice", 10, []string{"q1"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, m))

	applied, err := repo.SetScore(ctx, m.ID, match.SideCreator, 5, now)
	require.NoError(t, err)
	assert.False(t, applied, "scores only while active")

	applied, err = repo.Transition(ctx, m.ID, match.StatusOpen, match.StatusActive, match.Patch{ChallengerID: "bob", At: now})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.Transition(ctx, m.ID, match.StatusOpen, match.StatusActive, match.Patch{ChallengerID: "carol", At: now})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.Transition(ctx, m.ID, match.StatusActive, match.StatusFinished, match.Patch{RequireScores: true, At: now})
	require.NoError(t, err)
	assert.False(t, applied, "needs both scores")

	_, err = repo.Transition(ctx, m.ID, match.StatusFinished, match.StatusOpen, match.Patch{})
	assert.True(t, shared.IsValidation(err))

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.ChallengerID)
	assert.Equal(t, match.StatusActive, got.Status)
}

func TestActivity_Count(t *testing.T) {
	s := New()
	ctx := context.Background()
	repo := s.Activity()

	add := func(cat activity.Category, ok bool, at time.Time, md activity.Metadata) {
		ev, err := activity.NewEvent("u1", cat, ok, at, md)
		require.NoError(t, err)
		require.NoError(t, repo.Append(ctx, ev))
	}
	add(activity.CategoryReview, true, now.Add(-48*time.Hour), activity.Metadata{activity.KeyItemID: "a"})
	add(activity.CategoryReview, true, now, activity.Metadata{activity.KeyItemID: "b"})
	add(activity.CategoryReview, false, now, activity.Metadata{activity.KeyItemID: "c"})

	n, err := repo.Count(ctx, "u1", activity.CategoryReview, time.Time{}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.Count(ctx, "u1", activity.CategoryReview, now.Add(-time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	s.FailOn(OpActivityCount, nil, 1)
	_, err = repo.Count(ctx, "u1", activity.CategoryReview, time.Time{}, true)
	assert.True(t, shared.IsTransient(err))
}
