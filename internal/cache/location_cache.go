package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const locationKeyPrefix = "inventory-sync:location:"

// LocationCache keeps each store's resolved default location id in Redis.
// A nil client turns every call into a miss.
type LocationCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// NewLocationCache creates a Redis-backed location cache
func NewLocationCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *LocationCache {
	return &LocationCache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.WithField("component", "cache.location"),
	}
}

func locationKey(domain string) string {
	return locationKeyPrefix + domain
}

// GetLocationID returns the cached location id for a store
func (c *LocationCache) GetLocationID(ctx context.Context, domain string) (int64, bool) {
	if c == nil || c.redis == nil {
		return 0, false
	}

	val, err := c.redis.Get(ctx, locationKey(domain)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).WithField("domain", domain).Warn("Failed to read cached location")
		}
		return 0, false
	}

	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SetLocationID caches the location id for a store
func (c *LocationCache) SetLocationID(ctx context.Context, domain string, locationID int64) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, locationKey(domain), strconv.FormatInt(locationID, 10), c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("domain", domain).Warn("Failed to cache location")
	}
}

// Invalidate drops the cached location for a store
func (c *LocationCache) Invalidate(ctx context.Context, domain string) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, locationKey(domain)).Err()
}

// Ping checks the Redis connection
func (c *LocationCache) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Connect parses REDIS_URL and verifies the server. An empty URL disables caching.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
