// Package projections implements read models fed by domain events.
// Projections are denormalized views optimized for fast reads; they are
// rebuilt from the event stream and never written by the engine directly.
package projections

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/linguaquest/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS CARD VIEW - Denormalized Read Model for a learner profile
// ══════════════════════════════════════════════════════════════════════════════

// ProgressCardView keeps one ProgressCard per user, updated from reward,
// streak and match events.
type ProgressCardView struct {
	mu sync.RWMutex

	// cards holds all cards indexed by user ID.
	cards map[string]*ProgressCard

	// lastUpdated is the timestamp of the last applied event.
	lastUpdated time.Time

	// version is incremented on each applied event.
	version int64
}

// ProgressCard is everything a profile screen shows about a learner's
// progression, without additional store queries.
type ProgressCard struct {
	UserID string `json:"user_id"`

	// ═══════════════════════════════════════════════════════════════════════════
	// REWARDS
	// ═══════════════════════════════════════════════════════════════════════════

	Achievements       []AchievementSummary `json:"achievements"`
	RecentAchievements []AchievementSummary `json:"recent_achievements"` // Last 3
	CoinsFromRewards   int64                `json:"coins_from_rewards"`

	// ═══════════════════════════════════════════════════════════════════════════
	// STREAK
	// ═══════════════════════════════════════════════════════════════════════════

	CurrentStreak  int       `json:"current_streak"`
	BestStreak     int       `json:"best_streak"`
	FreezesUsed    int       `json:"freezes_used"`
	StreakBreaks   int       `json:"streak_breaks"`
	LastStreakDate time.Time `json:"last_streak_date"`

	// ═══════════════════════════════════════════════════════════════════════════
	// PVP
	// ═══════════════════════════════════════════════════════════════════════════

	MatchesPlayed int `json:"matches_played"`
	MatchesWon    int `json:"matches_won"`
	MatchesDrawn  int `json:"matches_drawn"`

	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// AchievementSummary is a compact view of a granted reward.
type AchievementSummary struct {
	Key       string    `json:"key"`
	Category  string    `json:"category"`
	Target    int       `json:"target"`
	Coins     int64     `json:"coins"`
	GrantedAt time.Time `json:"granted_at"`
}

const recentAchievements = 3

// NewProgressCardView creates an empty view.
func NewProgressCardView() *ProgressCardView {
	return &ProgressCardView{
		cards:   make(map[string]*ProgressCard),
		version: 1,
	}
}

// Register subscribes the view to every event it folds.
func (v *ProgressCardView) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventRewardGranted,
		shared.EventStreakAdvanced,
		shared.EventStreakBroken,
		shared.EventMatchSettled,
	} {
		if err := sub.Subscribe(t, v.Handle); err != nil {
			return err
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// Handle applies one event. Unknown events are ignored.
func (v *ProgressCardView) Handle(event shared.Event) error {
	if event == nil {
		return errors.New("projections: nil event")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	switch e := event.(type) {
	case shared.RewardGrantedEvent:
		v.applyReward(e)
	case shared.StreakEvent:
		v.applyStreak(e)
	case shared.MatchEvent:
		if e.EventType() != shared.EventMatchSettled {
			return nil
		}
		v.applySettlement(e)
	default:
		return nil
	}

	v.version++
	if event.OccurredAt().After(v.lastUpdated) {
		v.lastUpdated = event.OccurredAt()
	}
	return nil
}

func (v *ProgressCardView) applyReward(e shared.RewardGrantedEvent) {
	card := v.card(e.UserID, e.OccurredAt())
	for _, a := range card.Achievements {
		if a.Key == e.Key {
			return
		}
	}

	card.Achievements = append(card.Achievements, AchievementSummary{
		Key:       e.Key,
		Category:  e.Category,
		Target:    e.Target,
		Coins:     e.Coins,
		GrantedAt: e.OccurredAt(),
	})
	card.CoinsFromRewards += e.Coins
	card.RecentAchievements = latestAchievements(card.Achievements, recentAchievements)
}

func (v *ProgressCardView) applyStreak(e shared.StreakEvent) {
	card := v.card(e.UserID, e.OccurredAt())

	card.CurrentStreak = e.Count
	if e.Count > card.BestStreak {
		card.BestStreak = e.Count
	}
	if e.FreezeUsed {
		card.FreezesUsed++
	}
	if e.EventType() == shared.EventStreakBroken {
		card.StreakBreaks++
	}
	card.LastStreakDate = e.OccurredAt()
}

func (v *ProgressCardView) applySettlement(e shared.MatchEvent) {
	for _, userID := range []string{e.CreatorID, e.ChallengerID} {
		if userID == "" {
			continue
		}
		card := v.card(userID, e.OccurredAt())
		card.MatchesPlayed++
		switch {
		case e.WinnerID == nil:
			card.MatchesDrawn++
		case *e.WinnerID == userID:
			card.MatchesWon++
		}
	}
}

// card returns the mutable card of userID, creating it when absent.
// Callers hold the write lock.
func (v *ProgressCardView) card(userID string, at time.Time) *ProgressCard {
	c, ok := v.cards[userID]
	if !ok {
		c = &ProgressCard{UserID: userID}
		v.cards[userID] = c
	}
	c.UpdatedAt = at
	c.Version++
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Get returns a copy of the card of userID.
func (v *ProgressCardView) Get(ctx context.Context, userID string) (*ProgressCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if card, ok := v.cards[userID]; ok {
		return card.clone(), nil
	}
	return nil, shared.NotFound("projections", "Get", "progress card not found")
}

// TopStreaks returns up to limit cards ordered by current streak, longest
// first. Ties are broken by user ID.
func (v *ProgressCardView) TopStreaks(ctx context.Context, limit int) ([]*ProgressCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	all := make([]*ProgressCard, 0, len(v.cards))
	for _, card := range v.cards {
		if card.CurrentStreak > 0 {
			all = append(all, card)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CurrentStreak != all[j].CurrentStreak {
			return all[i].CurrentStreak > all[j].CurrentStreak
		}
		return all[i].UserID < all[j].UserID
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	result := make([]*ProgressCard, len(all))
	for i, card := range all {
		result[i] = card.clone()
	}
	return result, nil
}

// Count returns the number of cards.
func (v *ProgressCardView) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.cards)
}

// GetVersion returns the view version.
func (v *ProgressCardView) GetVersion() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// GetLastUpdated returns the time of the newest applied event.
func (v *ProgressCardView) GetLastUpdated() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastUpdated
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// clone creates a deep copy of a ProgressCard.
func (c *ProgressCard) clone() *ProgressCard {
	if c == nil {
		return nil
	}

	cardCopy := *c

	if c.Achievements != nil {
		cardCopy.Achievements = make([]AchievementSummary, len(c.Achievements))
		copy(cardCopy.Achievements, c.Achievements)
	}

	if c.RecentAchievements != nil {
		cardCopy.RecentAchievements = make([]AchievementSummary, len(c.RecentAchievements))
		copy(cardCopy.RecentAchievements, c.RecentAchievements)
	}

	return &cardCopy
}

// latestAchievements returns the n most recently granted achievements,
// newest first.
func latestAchievements(achievements []AchievementSummary, n int) []AchievementSummary {
	sorted := make([]AchievementSummary, len(achievements))
	copy(sorted, achievements)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GrantedAt.After(sorted[j].GrantedAt)
	})

	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
