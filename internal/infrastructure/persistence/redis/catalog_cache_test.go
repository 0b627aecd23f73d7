package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/domain/reward"
	"github.com/linguaquest/progression/pkg/circuitbreaker"
)

// unreachable returns a cache whose every command fails fast.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

func TestCatalogCache_OpensBreakerWhenRedisIsDown(t *testing.T) {
	cc := NewCatalogCache(unreachable(t), "test", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cc.Get(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}

	assert.Equal(t, circuitbreaker.StateOpen, cc.BreakerState())

	_, err := cc.Get(ctx)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
}

func TestCatalogCache_SetWithoutTTLIsNoop(t *testing.T) {
	cc := NewCatalogCache(unreachable(t), "test", nil)

	err := cc.Set(context.Background(), &reward.Catalog{Version: "v1"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, cc.BreakerState())
}

func TestCachedCatalog_FallsBackToSourceWhenRedisIsDown(t *testing.T) {
	source := reward.StaticSource{Catalog: &reward.Catalog{
		Version: "v1",
		Achievements: []reward.Definition{
			{Key: "first_review", Category: "review", Target: 1, Coins: 5},
		},
	}}
	cached := reward.NewCachedCatalog(source, time.Minute,
		reward.WithSharedCache(NewCatalogCache(unreachable(t), "test", nil)))

	cat, err := cached.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", cat.Version)

	_, ok := cat.Lookup("first_review")
	assert.True(t, ok)
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "redis://:secret@cache.internal:6380/2"
	cfg.PoolSize = 4

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)

	cfg.URL = ""
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "catalog:rewards", CatalogKey("rewards"))
	assert.Equal(t, "pubsub:reward.granted", PubSubChannel("reward.granted"))
}
