package config

import (
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Feature names. Turning one off never rolls back existing state: a
// disabled quest stops accruing progress, granted rewards stay granted.
const (
	FeatureAchievements  = "rewards.achievements"
	FeatureQuests        = "rewards.quests"
	FeatureStreakFreezes = "streak.freezes"
	FeaturePvPBets       = "pvp.bets"
)

var (
	ErrFeatureNotFound       = errors.New("feature not found")
	ErrInvalidRolloutPercent = errors.New("rollout percent must be 0-100")
)

var defaultFeatures = []Feature{
	{Name: FeatureAchievements, Description: "Grant threshold achievements", Rollout: 100},
	{Name: FeatureQuests, Description: "Track daily and weekly quests", Rollout: 100},
	{Name: FeatureStreakFreezes, Description: "Consume a streak freeze instead of resetting", Rollout: 100},
	{Name: FeaturePvPBets, Description: "Allow coin bets on PvP matches", Rollout: 100},
}

// Feature is one toggle. Rollout is the percentage of users, bucketed by
// a stable hash of feature and user ID, that see it enabled.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rollout     int    `json:"rollout"`
}

// FeatureFlags holds the live toggles. It implements port.FeatureGate.
type FeatureFlags struct {
	mu        sync.RWMutex
	features  map[string]Feature
	overrides map[string]map[string]bool // userID -> feature -> enabled
}

// NewFeatureFlags returns the default set: everything on.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:  make(map[string]Feature, len(defaultFeatures)),
		overrides: make(map[string]map[string]bool),
	}
	for _, f := range defaultFeatures {
		ff.features[f.Name] = f
	}
	return ff
}

// LoadFeatureFlags applies FEATURE_<NAME> overrides from v on top of the
// defaults. A value is a bool or a 0-100 rollout percentage, e.g.
// FEATURE_PVP_BETS=25. Unparseable values are ignored.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := NewFeatureFlags()
	if v == nil {
		return ff
	}

	for name, f := range ff.features {
		key := "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
		_ = v.BindEnv(key)
		raw := v.GetString(key)
		if raw == "" {
			continue
		}
		if on, err := strconv.ParseBool(raw); err == nil {
			f.Rollout = 0
			if on {
				f.Rollout = 100
			}
		} else if p, err := strconv.Atoi(raw); err == nil && p >= 0 && p <= 100 {
			f.Rollout = p
		}
		ff.features[name] = f
	}
	return ff
}

// Enabled reports whether feature is on for userID. A nil receiver enables
// everything; an unknown feature is off.
func (ff *FeatureFlags) Enabled(feature, userID string) bool {
	if ff == nil {
		return true
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if on, ok := ff.overrides[userID][feature]; ok {
		return on
	}
	f, ok := ff.features[feature]
	if !ok {
		return false
	}
	switch {
	case f.Rollout >= 100:
		return true
	case f.Rollout <= 0 || userID == "":
		return false
	}
	return rolloutBucket(feature, userID) < f.Rollout
}

func rolloutBucket(feature, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// SetRolloutPercent changes a feature's rollout at runtime.
func (ff *FeatureFlags) SetRolloutPercent(feature string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	f, ok := ff.features[feature]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Rollout = percent
	ff.features[feature] = f
	return nil
}

// DisableFeature sets rollout to zero.
func (ff *FeatureFlags) DisableFeature(feature string) error {
	return ff.SetRolloutPercent(feature, 0)
}

// SetUserOverride forces feature on or off for one user.
func (ff *FeatureFlags) SetUserOverride(userID, feature string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.overrides[userID] == nil {
		ff.overrides[userID] = make(map[string]bool)
	}
	ff.overrides[userID][feature] = enabled
}

// Snapshot lists every feature ordered by name.
func (ff *FeatureFlags) Snapshot() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
