package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/coin"
	"github.com/linguaquest/progression/internal/domain/match"
	"github.com/linguaquest/progression/internal/domain/review"
	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/internal/domain/shared"
	"github.com/linguaquest/progression/internal/domain/streak"
)

// ════════════════════════════════════════════════════════════════════════════
// REVIEWS
// ════════════════════════════════════════════════════════════════════════════

type reviewRepo struct{ r *repos }

func (x reviewRepo) Get(ctx context.Context, userID, itemID string) (*review.State, error) {
	var out *review.State
	err := x.r.run(ctx, OpReviewsGet, func(d *data) error {
		s, ok := d.reviews[reviewKey{userID, itemID}]
		if !ok {
			return shared.NotFound("review", "Get", "review state not found")
		}
		cp := *s
		out = &cp
		return nil
	})
	return out, err
}

func (x reviewRepo) Upsert(ctx context.Context, state *review.State) error {
	return x.r.run(ctx, OpReviewsUpsert, func(d *data) error {
		cp := *state
		d.reviews[reviewKey{state.UserID, state.ItemID}] = &cp
		return nil
	})
}

func (x reviewRepo) Delete(ctx context.Context, userID, itemID string) error {
	return x.r.run(ctx, "reviews.Delete", func(d *data) error {
		k := reviewKey{userID, itemID}
		if _, ok := d.reviews[k]; !ok {
			return shared.NotFound("review", "Delete", "review state not found")
		}
		delete(d.reviews, k)
		return nil
	})
}

func (x reviewRepo) Due(ctx context.Context, userID string, now time.Time, limit int) ([]*review.State, error) {
	var out []*review.State
	err := x.r.run(ctx, "reviews.Due", func(d *data) error {
		for k, s := range d.reviews {
			if k.user == userID && s.IsDue(now) {
				cp := *s
				out = append(out, &cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		if out[i].EaseFactor != out[j].EaseFactor {
			return out[i].EaseFactor < out[j].EaseFactor
		}
		return out[i].ItemID < out[j].ItemID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ════════════════════════════════════════════════════════════════════════════

type activityRepo struct{ r *repos }

func (x activityRepo) Append(ctx context.Context, event *activity.Event) error {
	return x.r.run(ctx, OpActivityAppend, func(d *data) error {
		cp := *event
		cp.Metadata = event.Metadata.Clone()
		d.events = append(d.events, &cp)
		return nil
	})
}

func (x activityRepo) Count(ctx context.Context, userID string, category activity.Category, since time.Time, successOnly bool) (int, error) {
	n := 0
	err := x.r.run(ctx, OpActivityCount, func(d *data) error {
		for _, e := range d.events {
			if e.UserID != userID || e.Category != category {
				continue
			}
			if successOnly && !e.Success {
				continue
			}
			if !since.IsZero() && e.OccurredAt.Before(since) {
				continue
			}
			n++
		}
		return nil
	})
	return n, err
}

// ════════════════════════════════════════════════════════════════════════════
// REWARDS
// ════════════════════════════════════════════════════════════════════════════

type rewardRepo struct{ r *repos }

func (x rewardRepo) Get(ctx context.Context, userID, key string) (*reward.Record, error) {
	var out *reward.Record
	err := x.r.run(ctx, OpRewardsGet, func(d *data) error {
		rec, ok := d.rewards[rewardKey{userID, key}]
		if !ok {
			return shared.NotFound("reward", "Get", "reward record not found")
		}
		cp := *rec
		out = &cp
		return nil
	})
	return out, err
}

func (x rewardRepo) UpsertProgress(ctx context.Context, record *reward.Record) error {
	return x.r.run(ctx, OpRewardsUpsert, func(d *data) error {
		k := rewardKey{record.UserID, record.Key}
		existing, ok := d.rewards[k]
		if ok && existing.IsAchieved() {
			return nil
		}
		cp := *record
		cp.AchievedAt = nil
		d.rewards[k] = &cp
		return nil
	})
}

func (x rewardRepo) MarkAchieved(ctx context.Context, userID, key string, category activity.Category, target int, at time.Time) (bool, error) {
	applied := false
	err := x.r.run(ctx, OpRewardsMark, func(d *data) error {
		k := rewardKey{userID, key}
		rec, ok := d.rewards[k]
		if ok && rec.IsAchieved() {
			return nil
		}
		if !ok {
			rec = &reward.Record{UserID: userID, Key: key}
			d.rewards[k] = rec
		}
		ts := at
		rec.Category = category
		rec.Target = target
		rec.Progress = target
		rec.AchievedAt = &ts
		rec.UpdatedAt = at
		applied = true
		return nil
	})
	return applied, err
}

func (x rewardRepo) List(ctx context.Context, userID string) ([]*reward.Record, error) {
	var out []*reward.Record
	err := x.r.run(ctx, "rewards.List", func(d *data) error {
		for k, rec := range d.rewards {
			if k.user == userID {
				cp := *rec
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Key < out[j].Key
	})
	return out, err
}

// ════════════════════════════════════════════════════════════════════════════
// COINS
// ════════════════════════════════════════════════════════════════════════════

type coinRepo struct{ r *repos }

func (x coinRepo) Apply(ctx context.Context, entry coin.Entry) (int64, bool, error) {
	if err := entry.Validate(); err != nil {
		return 0, false, err
	}

	var (
		balance int64
		applied bool
	)
	err := x.r.run(ctx, OpCoinsApply, func(d *data) error {
		if _, seen := d.journal[entry.IdempotencyKey]; seen {
			balance = d.balances[entry.UserID]
			return nil
		}
		next := d.balances[entry.UserID] + entry.Delta
		if next < 0 {
			return coin.InsufficientFunds("Apply")
		}
		d.balances[entry.UserID] = next
		d.journal[entry.IdempotencyKey] = entry
		balance, applied = next, true
		return nil
	})
	return balance, applied, err
}

func (x coinRepo) Balance(ctx context.Context, userID string) (int64, error) {
	var b int64
	err := x.r.run(ctx, OpCoinsBalance, func(d *data) error {
		b = d.balances[userID]
		return nil
	})
	return b, err
}

// ════════════════════════════════════════════════════════════════════════════
// STREAKS
// ════════════════════════════════════════════════════════════════════════════

type streakRepo struct{ r *repos }

func (x streakRepo) Get(ctx context.Context, userID string) (*streak.State, error) {
	var out *streak.State
	err := x.r.run(ctx, OpStreaksGet, func(d *data) error {
		s, ok := d.streaks[userID]
		if !ok {
			return shared.NotFound("streak", "Get", "streak not found")
		}
		cp := *s
		out = &cp
		return nil
	})
	return out, err
}

func (x streakRepo) Insert(ctx context.Context, state *streak.State) (bool, error) {
	applied := false
	err := x.r.run(ctx, "streaks.Insert", func(d *data) error {
		if _, ok := d.streaks[state.UserID]; ok {
			return nil
		}
		cp := *state
		d.streaks[state.UserID] = &cp
		applied = true
		return nil
	})
	return applied, err
}

func (x streakRepo) CompareAndSwap(ctx context.Context, next *streak.State, expectedVersion int64) (bool, error) {
	applied := false
	err := x.r.run(ctx, OpStreaksCAS, func(d *data) error {
		cur, ok := d.streaks[next.UserID]
		if !ok || cur.Version != expectedVersion {
			return nil
		}
		cp := *next
		cp.Version = expectedVersion + 1
		d.streaks[next.UserID] = &cp
		applied = true
		return nil
	})
	return applied, err
}

func (x streakRepo) AddFreezes(ctx context.Context, userID string, n int) (int, error) {
	var freezes int
	err := x.r.run(ctx, "streaks.AddFreezes", func(d *data) error {
		s, ok := d.streaks[userID]
		if !ok {
			s = &streak.State{UserID: userID}
			d.streaks[userID] = s
		}
		s.Freezes += n
		s.Version++
		freezes = s.Freezes
		return nil
	})
	return freezes, err
}

// ════════════════════════════════════════════════════════════════════════════
// MATCHES
// ════════════════════════════════════════════════════════════════════════════

type matchRepo struct{ r *repos }

func (x matchRepo) Create(ctx context.Context, m *match.Match) error {
	return x.r.run(ctx, "matches.Create", func(d *data) error {
		if _, ok := d.matches[m.ID]; ok {
			return shared.Conflict("match", "Create", "match already exists")
		}
		d.matches[m.ID] = m.Clone()
		return nil
	})
}

func (x matchRepo) Get(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	var out *match.Match
	err := x.r.run(ctx, OpMatchesGet, func(d *data) error {
		m, ok := d.matches[id]
		if !ok {
			return shared.NotFound("match", "Get", "match not found")
		}
		out = m.Clone()
		return nil
	})
	return out, err
}

func (x matchRepo) Transition(ctx context.Context, id uuid.UUID, from, to match.Status, patch match.Patch) (bool, error) {
	if !match.CanTransition(from, to) {
		return false, shared.Validation("match", "Transition", "invalid transition "+string(from)+" -> "+string(to))
	}

	applied := false
	err := x.r.run(ctx, OpMatchesTransition, func(d *data) error {
		m, ok := d.matches[id]
		if !ok {
			return shared.NotFound("match", "Transition", "match not found")
		}
		if m.Status != from {
			return nil
		}
		if patch.RequireScores && !m.HasBothScores() {
			return nil
		}

		m.Status = to
		if patch.ChallengerID != "" {
			m.ChallengerID = patch.ChallengerID
		}
		if patch.WinnerID != nil {
			w := *patch.WinnerID
			m.WinnerID = &w
		}
		if patch.SettledAt != nil {
			t := *patch.SettledAt
			m.SettledAt = &t
		}
		m.UpdatedAt = patch.At
		applied = true
		return nil
	})
	return applied, err
}

func (x matchRepo) SetScore(ctx context.Context, id uuid.UUID, side match.Side, score int, at time.Time) (bool, error) {
	applied := false
	err := x.r.run(ctx, OpMatchesSetScore, func(d *data) error {
		m, ok := d.matches[id]
		if !ok {
			return shared.NotFound("match", "SetScore", "match not found")
		}
		if m.Status != match.StatusActive {
			return nil
		}
		v := score
		switch side {
		case match.SideCreator:
			if m.CreatorScore != nil {
				return nil
			}
			m.CreatorScore = &v
		case match.SideChallenger:
			if m.ChallengerScore != nil {
				return nil
			}
			m.ChallengerScore = &v
		default:
			return shared.Validation("match", "SetScore", "unknown side")
		}
		m.UpdatedAt = at
		applied = true
		return nil
	})
	return applied, err
}

func (x matchRepo) ListStale(ctx context.Context, status match.Status, before time.Time, limit int) ([]*match.Match, error) {
	var out []*match.Match
	err := x.r.run(ctx, "matches.ListStale", func(d *data) error {
		for _, m := range d.matches {
			if m.Status == status && m.UpdatedAt.Before(before) {
				out = append(out, m.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
