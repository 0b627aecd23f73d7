package reward

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/linguaquest/progression/internal/domain/activity"
	"github.com/linguaquest/progression/internal/domain/shared"
)

// DefaultMilestones are the streak lengths granted when a catalog defines
// no streak milestones of its own.
var DefaultMilestones = []int{7, 14, 30, 60, 100, 180, 365}

// Catalog is the full set of reward definitions.
type Catalog struct {
	Version      string       `yaml:"version" json:"version"`
	Achievements []Definition `yaml:"achievements" json:"achievements"`
	Quests       []Quest      `yaml:"quests" json:"quests"`
}

// Normalize fills default streak milestones and sorts definitions by
// category and target.
func (c *Catalog) Normalize() {
	hasMilestones := false
	for _, d := range c.Achievements {
		if d.Category == activity.CategoryStreakMilestone {
			hasMilestones = true
			break
		}
	}
	if !hasMilestones {
		for _, days := range DefaultMilestones {
			c.Achievements = append(c.Achievements, Definition{
				Key:      MilestoneKey(days),
				Category: activity.CategoryStreakMilestone,
				Target:   days,
				Coins:    int64(days) * 5,
				Title:    fmt.Sprintf("%d-day streak", days),
			})
		}
	}

	sort.SliceStable(c.Achievements, func(i, j int) bool {
		a, b := c.Achievements[i], c.Achievements[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Target < b.Target
	})
}

// Validate checks the catalog for duplicate keys and impossible values.
func (c *Catalog) Validate() error {
	const op = "ValidateCatalog"
	keys := make(map[string]struct{}, len(c.Achievements))

	for _, d := range c.Achievements {
		if d.Key == "" {
			return shared.Validation("reward", op, "achievement without key")
		}
		if _, dup := keys[d.Key]; dup {
			return shared.Validation("reward", op, "duplicate achievement key "+d.Key)
		}
		keys[d.Key] = struct{}{}

		if err := ValidateCategory(op, d.Category); err != nil {
			return err
		}
		if d.Target <= 0 {
			return shared.Validation("reward", op, "achievement "+d.Key+" needs a positive target")
		}
		if d.Coins < 0 {
			return shared.Validation("reward", op, "achievement "+d.Key+" has negative coins")
		}
	}

	ids := make(map[string]struct{}, len(c.Quests))
	for _, q := range c.Quests {
		if q.ID == "" {
			return shared.Validation("reward", op, "quest without id")
		}
		if _, dup := ids[q.ID]; dup {
			return shared.Validation("reward", op, "duplicate quest id "+q.ID)
		}
		ids[q.ID] = struct{}{}

		if !q.Category.IsEventCategory() || q.Category == activity.CategoryQuestsCompleted {
			return shared.Validation("reward", op, "quest "+q.ID+" has unsupported category "+string(q.Category))
		}
		if !q.Period.IsValid() {
			return shared.Validation("reward", op, "quest "+q.ID+" has unknown period "+string(q.Period))
		}
		if q.Target <= 0 || q.Coins < 0 {
			return shared.Validation("reward", op, "quest "+q.ID+" has invalid target or coins")
		}
	}
	return nil
}

// ForCategory returns the achievements on category c ordered by target.
func (c *Catalog) ForCategory(cat activity.Category) []Definition {
	var out []Definition
	for _, d := range c.Achievements {
		if d.Category == cat {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// QuestsFor returns the quests counting category c.
func (c *Catalog) QuestsFor(cat activity.Category) []Quest {
	var out []Quest
	for _, q := range c.Quests {
		if q.Category == cat {
			out = append(out, q)
		}
	}
	return out
}

// Lookup finds an achievement by key.
func (c *Catalog) Lookup(key string) (Definition, bool) {
	for _, d := range c.Achievements {
		if d.Key == key {
			return d, true
		}
	}
	return Definition{}, false
}

// ════════════════════════════════════════════════════════════════════════════
// READ-THROUGH CACHE
// ════════════════════════════════════════════════════════════════════════════

// ErrCatalogCacheMiss is returned by a CatalogCache without a stored catalog.
var ErrCatalogCacheMiss = errors.New("catalog cache miss")

// CatalogSource loads the authoritative catalog.
type CatalogSource interface {
	Load(ctx context.Context) (*Catalog, error)
}

// CatalogCache is a shared cache tier in front of the source, for example
// Redis. Failures are never fatal; the source is always consulted next.
type CatalogCache interface {
	Get(ctx context.Context) (*Catalog, error)
	Set(ctx context.Context, catalog *Catalog, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// CachedCatalog is an explicit read-through cache over a CatalogSource.
// Entries expire after the TTL and Invalidate drops them immediately.
// Concurrent misses share a single load.
type CachedCatalog struct {
	source CatalogSource
	tier   CatalogCache
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current *Catalog
	expires time.Time
	gen     uint64 // bumped by Invalidate
}

// CachedCatalogOption configures a CachedCatalog.
type CachedCatalogOption func(*CachedCatalog)

// WithSharedCache adds a shared cache tier.
func WithSharedCache(c CatalogCache) CachedCatalogOption {
	return func(cc *CachedCatalog) { cc.tier = c }
}

// WithCatalogClock overrides the clock used for expiry.
func WithCatalogClock(now func() time.Time) CachedCatalogOption {
	return func(cc *CachedCatalog) { cc.now = now }
}

// NewCachedCatalog creates a cache with the given TTL. A non-positive TTL
// reloads on every call.
func NewCachedCatalog(source CatalogSource, ttl time.Duration, opts ...CachedCatalogOption) *CachedCatalog {
	cc := &CachedCatalog{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// Get returns the current catalog, loading it on a miss.
func (cc *CachedCatalog) Get(ctx context.Context) (*Catalog, error) {
	cc.mu.RLock()
	if cc.current != nil && cc.now().Before(cc.expires) {
		cat := cc.current
		cc.mu.RUnlock()
		return cat, nil
	}
	cc.mu.RUnlock()

	v, err, _ := cc.group.Do("catalog", func() (interface{}, error) {
		return cc.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Catalog), nil
}

func (cc *CachedCatalog) load(ctx context.Context) (*Catalog, error) {
	// A load that finished just before this one joined the group.
	cc.mu.RLock()
	if cc.current != nil && cc.now().Before(cc.expires) {
		cat := cc.current
		cc.mu.RUnlock()
		return cat, nil
	}
	gen := cc.gen
	cc.mu.RUnlock()

	if cc.tier != nil {
		if cat, err := cc.tier.Get(ctx); err == nil && cat != nil {
			cc.store(gen, cat)
			return cat, nil
		}
	}

	cat, err := cc.source.Load(ctx)
	if err != nil {
		return nil, shared.WrapError("reward", "LoadCatalog", shared.ErrTransientStore, "catalog source failed", err)
	}
	cat.Normalize()
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	if cc.store(gen, cat) && cc.tier != nil {
		_ = cc.tier.Set(ctx, cat, cc.ttl)
	}
	return cat, nil
}

// store keeps cat only if no Invalidate ran since the load that produced
// it started. The caller still gets the stale catalog; later Gets reload.
func (cc *CachedCatalog) store(gen uint64, cat *Catalog) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.gen != gen {
		return false
	}
	cc.current = cat
	cc.expires = cc.now().Add(cc.ttl)
	return true
}

// Invalidate drops the cached catalog from every tier. The next Get
// reloads from the source.
func (cc *CachedCatalog) Invalidate(ctx context.Context) error {
	cc.mu.Lock()
	cc.current = nil
	cc.expires = time.Time{}
	cc.gen++
	cc.mu.Unlock()

	cc.group.Forget("catalog")
	if cc.tier != nil {
		return cc.tier.Delete(ctx)
	}
	return nil
}

// StaticSource serves a fixed catalog. Tests and embedded defaults use it.
type StaticSource struct {
	Catalog *Catalog
}

// Load implements CatalogSource.
func (s StaticSource) Load(context.Context) (*Catalog, error) {
	if s.Catalog == nil {
		return nil, errors.New("static catalog is empty")
	}
	cp := *s.Catalog
	cp.Achievements = append([]Definition(nil), s.Catalog.Achievements...)
	cp.Quests = append([]Quest(nil), s.Catalog.Quests...)
	return &cp, nil
}
