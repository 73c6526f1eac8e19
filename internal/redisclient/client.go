package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/Aniket17200/Profitfirst/internal/models"
)

// releaseLockScript deletes the lock only while it still holds the caller's token.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

type Client struct {
	rdb           *redis.Client
	prefix        string
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int, prefix string) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb, prefix), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = "profitfirst"
	}
	return &Client{
		rdb:           rdb,
		prefix:        prefix,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks connectivity (readiness probe)
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) cacheKey(ownerID string, dataType models.DataType, rangeKey string) string {
	return fmt.Sprintf("%s:cache:%s:%s:%s", c.prefix, ownerID, dataType, rangeKey)
}

func (c *Client) lockKey(name string) string {
	return fmt.Sprintf("%s:lock:%s", c.prefix, name)
}

// GetCacheEntry loads a cache entry. A missing key returns (nil, nil).
func (c *Client) GetCacheEntry(ctx context.Context, ownerID string, dataType models.DataType, rangeKey string) (*models.CacheEntry, error) {
	raw, err := c.rdb.Get(ctx, c.cacheKey(ownerID, dataType, rangeKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}

// SetCacheEntry overwrites a cache entry. retention bounds how long Redis
// keeps it; zero keeps it until overwritten.
func (c *Client) SetCacheEntry(ctx context.Context, entry *models.CacheEntry, rangeKey string, retention time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	key := c.cacheKey(entry.OwnerID, entry.DataType, rangeKey)
	if err := c.rdb.Set(ctx, key, raw, retention).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// AcquireLock acquires a distributed lock. The returned token must be
// passed to ReleaseLock; an empty token means the lock is held elsewhere.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, c.lockKey(name), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a lock if it is still owned by token
func (c *Client) ReleaseLock(ctx context.Context, name, token string) error {
	if token == "" {
		return nil
	}
	if err := c.releaseScript.Run(ctx, c.rdb, []string{c.lockKey(name)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
