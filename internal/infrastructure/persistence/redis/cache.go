// Package redis implements the shared Redis tier of the progression engine:
// a JSON value cache used for the reward catalog, and the pub/sub channels
// bus events are relayed to.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss is returned by Get for an absent key.
	ErrCacheMiss = errors.New("cache: key not found")

	// ErrCacheConnection wraps a failed connect or an unparseable URL.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization wraps JSON failures.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

const (
	PrefixCatalog = "catalog:"
	PrefixPubSub  = "pubsub:"
)

// CatalogKey is the key of the named catalog snapshot.
func CatalogKey(name string) string { return PrefixCatalog + name }

// PubSubChannel is the channel events of eventType are relayed on.
func PubSubChannel(eventType string) string { return PrefixPubSub + eventType }

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds connection settings. When URL is set it replaces Host,
// Port, Password and DB; pool sizes and timeouts still apply on top.
type Config struct {
	URL      string
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns short timeouts: the cache is optional and must
// never slow the engine down.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolTimeout:  time.Second,
	}
}

// Options builds the go-redis client options.
func (c Config) Options() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Password: c.Password,
		DB:       c.DB,
	}
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
		}
		opts = parsed
	}

	setPositive(&opts.PoolSize, c.PoolSize)
	setPositive(&opts.MinIdleConns, c.MinIdleConns)
	if c.MaxRetries != 0 {
		opts.MaxRetries = c.MaxRetries
	}
	setPositive(&opts.DialTimeout, c.DialTimeout)
	setPositive(&opts.ReadTimeout, c.ReadTimeout)
	setPositive(&opts.WriteTimeout, c.WriteTimeout)
	setPositive(&opts.PoolTimeout, c.PoolTimeout)
	return opts, nil
}

func setPositive[T int | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// Cache stores JSON values and publishes JSON messages on one client.
type Cache struct {
	client *redis.Client
}

// NewCache connects and pings Redis within the dial timeout.
func NewCache(cfg Config) (*Cache, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return &Cache{client: client}, nil
}

// NewCacheFromClient wraps client without pinging it.
func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Close() error { return c.client.Close() }

// Ping implements the ops health check.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Set stores value as JSON under key. A zero ttl keeps the key forever.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Get decodes the JSON under key into dest, or returns ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if key == "" {
		return ErrCacheKeyEmpty
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Publish sends message as JSON on channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}
