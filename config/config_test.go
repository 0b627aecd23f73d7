package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_QUERY_TIMEOUT", "3s")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Equal(t, 3*time.Second, cfg.Engine.StoreTimeout)
	assert.Equal(t, 5, cfg.Engine.StreakCASAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Match.AbandonAfter)
	assert.Equal(t, ":8081", cfg.Observability.OpsAddr)
	assert.True(t, cfg.Features.Enabled(FeatureQuests, "u1"))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_REFERENCE_TZ", "UTC+05:00")
	t.Setenv("ENGINE_STORE_TIMEOUT", "750ms")
	t.Setenv("MATCH_MAX_BET", "500")
	t.Setenv("FEATURE_REWARDS_QUESTS", "false")

	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).In(cfg.App.Location).Zone()
	assert.Equal(t, 5*3600, offset)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.StoreTimeout)
	assert.Equal(t, int64(500), cfg.Match.MaxBet)
	assert.False(t, cfg.Features.Enabled(FeatureQuests, "u1"))
}

func TestLoad_InvalidZone(t *testing.T) {
	t.Setenv("APP_REFERENCE_TZ", "Nowhere/Special")

	_, err := LoadFrom(t.TempDir())
	assert.Error(t, err)
}

func TestValidate_ProductionNeedsDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")

	_, err := LoadFrom(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeaturePvPBets, 50))

	enabled := 0
	for i := 0; i < 1000; i++ {
		if ff.Enabled(FeaturePvPBets, "user-"+string(rune('a'+i%26))+time.Duration(i).String()) {
			enabled++
		}
	}
	assert.Greater(t, enabled, 300)
	assert.Less(t, enabled, 700)

	// Stable per user.
	first := ff.Enabled(FeaturePvPBets, "stable-user")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.Enabled(FeaturePvPBets, "stable-user"))
	}

	ff.SetUserOverride("stable-user", FeaturePvPBets, !first)
	assert.Equal(t, !first, ff.Enabled(FeaturePvPBets, "stable-user"))

	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeaturePvPBets, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_DisableAndSnapshot(t *testing.T) {
	ff := NewFeatureFlags()
	require.NoError(t, ff.DisableFeature(FeatureQuests))

	assert.False(t, ff.Enabled(FeatureQuests, "u1"))
	assert.False(t, ff.Enabled("unknown.feature", "u1"))

	var nilFlags *FeatureFlags
	assert.True(t, nilFlags.Enabled(FeatureQuests, "u1"))

	snap := ff.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, FeaturePvPBets, snap[0].Name)
	assert.Equal(t, FeatureQuests, snap[2].Name)
	assert.Equal(t, 0, snap[2].Rollout)
	assert.Equal(t, 100, snap[1].Rollout)
}
