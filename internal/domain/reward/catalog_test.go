package reward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/shared"
)

func testCatalog() *Catalog {
	return &Catalog{
		Version: "test",
		Achievements: []Definition{
			{Key: "vocab_500", Category: activity.CategoryWordsMastered, Target: 500, Coins: 200},
			{Key: "vocab_100", Category: activity.CategoryWordsMastered, Target: 100, Coins: 50},
		},
		Quests: []Quest{
			{ID: "daily_reviews", Category: activity.CategoryReview, Period: PeriodDaily, Target: 20, Coins: 10},
		},
	}
}

type countingSource struct {
	loads atomic.Int32
	delay time.Duration
	err   error
}

func (s *countingSource) Load(ctx context.Context) (*Catalog, error) {
	s.loads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return testCatalog(), nil
}

type brokenTier struct{ sets int }

func (b *brokenTier) Get(context.Context) (*Catalog, error) { return nil, errors.New("redis down") }
func (b *brokenTier) Set(context.Context, *Catalog, time.Duration) error {
	b.sets++
	return errors.New("redis down")
}
func (b *brokenTier) Delete(context.Context) error { return errors.New("redis down") }

type memTier struct {
	mu  sync.Mutex
	cat *Catalog
}

func (m *memTier) Get(context.Context) (*Catalog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cat == nil {
		return nil, ErrCatalogCacheMiss
	}
	return m.cat, nil
}
func (m *memTier) Set(_ context.Context, c *Catalog, _ time.Duration) error {
	m.mu.Lock()
	m.cat = c
	m.mu.Unlock()
	return nil
}
func (m *memTier) Delete(context.Context) error {
	m.mu.Lock()
	m.cat = nil
	m.mu.Unlock()
	return nil
}

func TestCatalog_NormalizeAddsDefaultMilestones(t *testing.T) {
	cat := testCatalog()
	cat.Normalize()
	require.NoError(t, cat.Validate())

	milestones := cat.ForCategory(activity.CategoryStreakMilestone)
	require.Len(t, milestones, len(DefaultMilestones))
	for i, days := range DefaultMilestones {
		assert.Equal(t, days, milestones[i].Target)
		assert.Equal(t, MilestoneKey(days), milestones[i].Key)
	}

	vocab := cat.ForCategory(activity.CategoryWordsMastered)
	require.Len(t, vocab, 2)
	assert.Equal(t, 100, vocab[0].Target)
	assert.Equal(t, 500, vocab[1].Target)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Catalog)
	}{
		{"duplicate key", func(c *Catalog) { c.Achievements[1].Key = "vocab_500" }},
		{"unknown category", func(c *Catalog) { c.Achievements[0].Category = "likes" }},
		{"zero target", func(c *Catalog) { c.Achievements[0].Target = 0 }},
		{"bad period", func(c *Catalog) { c.Quests[0].Period = "monthly" }},
		{"quest on quest completions", func(c *Catalog) { c.Quests[0].Category = activity.CategoryQuestsCompleted }},
		{"quest on streak milestone", func(c *Catalog) { c.Quests[0].Category = activity.CategoryStreakMilestone }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := testCatalog()
			tt.mutate(cat)
			assert.True(t, shared.IsValidation(cat.Validate()))
		})
	}
}

func TestQuestKey_PerPeriod(t *testing.T) {
	mon := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := mon.AddDate(0, 0, 7)

	assert.Equal(t, "quest:weekly_xp:2024-01-15", QuestKey("weekly_xp", mon))
	assert.NotEqual(t, QuestKey("weekly_xp", mon), QuestKey("weekly_xp", next))
	assert.True(t, IsQuestKey(QuestKey("x", mon)))
	assert.False(t, IsQuestKey(MilestoneKey(7)))
}

func TestCachedCatalog_TTLAndInvalidate(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{}
	cc := NewCachedCatalog(src, time.Minute, WithCatalogClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := cc.Get(ctx)
	require.NoError(t, err)
	_, err = cc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.loads.Load())

	now = now.Add(2 * time.Minute)
	_, err = cc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.loads.Load())

	require.NoError(t, cc.Invalidate(ctx))
	_, err = cc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.loads.Load())
}

func TestCachedCatalog_ConcurrentMissesShareOneLoad(t *testing.T) {
	src := &countingSource{delay: 50 * time.Millisecond}
	cc := NewCachedCatalog(src, time.Minute)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := cc.Get(context.Background())
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), src.loads.Load())
}

func TestCachedCatalog_SharedTierFailsOpen(t *testing.T) {
	tier := &brokenTier{}
	src := &countingSource{}
	cc := NewCachedCatalog(src, time.Minute, WithSharedCache(tier))

	cat, err := cc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", cat.Version)
	assert.Equal(t, 1, tier.sets)
}

func TestCachedCatalog_SharedTierHit(t *testing.T) {
	tier := &memTier{}
	src := &countingSource{}
	ctx := context.Background()

	first := NewCachedCatalog(src, time.Minute, WithSharedCache(tier))
	_, err := first.Get(ctx)
	require.NoError(t, err)

	// A second process finds the catalog in the shared tier.
	second := NewCachedCatalog(src, time.Minute, WithSharedCache(tier))
	_, err = second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.loads.Load())

	require.NoError(t, second.Invalidate(ctx))
	_, err = second.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.loads.Load())
}

func TestCachedCatalog_SourceErrorIsTransient(t *testing.T) {
	cc := NewCachedCatalog(&countingSource{err: errors.New("disk gone")}, time.Minute)
	_, err := cc.Get(context.Background())
	assert.True(t, shared.IsTransient(err))
}

type gatedSource struct {
	loads   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) Load(ctx context.Context) (*Catalog, error) {
	n := s.loads.Add(1)
	s.started <- struct{}{}
	<-s.release
	cat := testCatalog()
	cat.Version = fmt.Sprintf("v%d", n)
	return cat, nil
}

func TestCachedCatalog_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}, 2), release: make(chan struct{})}
	tier := &memTier{}
	cc := NewCachedCatalog(src, time.Minute, WithSharedCache(tier))
	ctx := context.Background()

	inFlight := make(chan *Catalog, 1)
	go func() {
		cat, err := cc.Get(ctx)
		assert.NoError(t, err)
		inFlight <- cat
	}()

	<-src.started
	require.NoError(t, cc.Invalidate(ctx))
	close(src.release)

	stale := <-inFlight
	assert.Equal(t, "v1", stale.Version)

	tier.mu.Lock()
	assert.Nil(t, tier.cat, "a load started before Invalidate must not repopulate the shared tier")
	tier.mu.Unlock()

	fresh, err := cc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", fresh.Version)
	assert.Equal(t, int32(2), src.loads.Load())

	again, err := cc.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, fresh, again)
}
