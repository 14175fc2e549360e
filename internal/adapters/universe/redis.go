package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

const defaultKeyPrefix = "universe:"

// RedisConfig holds the connection settings of the shared universe cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisCache stores ticker lists as JSON arrays under "<prefix><date>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.UniverseCache = (*RedisCache)(nil)

// NewRedisCache connects to redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required: %w", ports.ErrConfigurationError)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %v: %w", err, ports.ErrDBConnection)
	}
	return NewRedisCacheWithClient(rdb, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(date string) string { return c.prefix + date }

// Get returns the cached tickers for the date. A miss is (nil, false, nil).
func (c *RedisCache) Get(ctx context.Context, date string) ([]string, bool, error) {
	val, err := c.client.Get(ctx, c.key(date)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %v: %w", err, ports.ErrQueryFailed)
	}
	var tickers []string
	if err := json.Unmarshal(val, &tickers); err != nil {
		return nil, false, fmt.Errorf("decode cached universe %s: %v: %w", date, err, ports.ErrQueryFailed)
	}
	return tickers, true, nil
}

// Set stores the tickers for the date with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, date string, tickers []string) error {
	data, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("encode universe: %v: %w", err, ports.ErrInvalidRequest)
	}
	if err := c.client.Set(ctx, c.key(date), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %v: %w", err, ports.ErrUpdateFailed)
	}
	return nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %v: %w", err, ports.ErrDBConnection)
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
