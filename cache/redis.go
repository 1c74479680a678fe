package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// TLS enables TLS when non-nil
	TLS *tls.Config
	// KeyPrefix namespaces event keys, "easy_webhook:event:" when empty
	KeyPrefix string
}

// RedisCache shares processed event ids between every replica behind the
// webhook endpoint
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		TLSConfig:    cfg.TLS,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	c := &RedisCache{client: client, prefix: prefix}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return c, nil
}

func (c *RedisCache) key(eventID string) string {
	return c.prefix + eventID
}

const (
	claimedValue   = "claimed"
	processedValue = "processed"
)

// releaseScript deletes the key only while it still holds a claim
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IsProcessed checks if an event has been processed
func (c *RedisCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	val, err := c.client.Get(ctx, c.key(eventID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return val == processedValue, nil
}

// Claim reserves the event key with SETNX so one replica wins
func (c *RedisCache) Claim(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(eventID), claimedValue, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", eventID, err)
	}
	return ok, nil
}

// Release removes an unfinished claim
func (c *RedisCache) Release(ctx context.Context, eventID string) error {
	if err := releaseScript.Run(ctx, c.client, []string{c.key(eventID)}, claimedValue).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}
	return nil
}

// MarkProcessed overwrites the claim with the processed marker. An existing
// processed marker keeps its expiry.
func (c *RedisCache) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	key := c.key(eventID)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	if val == processedValue {
		return nil
	}
	if err := c.client.Set(ctx, key, processedValue, ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
