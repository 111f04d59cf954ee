package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"mentalia/pkg/domain"
)

const (
	premiumKeyPrefix  = "mentalia:checkout:premium:"
	customerKeyPrefix = "mentalia:checkout:customer:"
	cacheOpTimeout    = 2 * time.Second
)

// premiumCache keeps premium lookups in Redis with TTL. Cache failures are
// logged and treated as misses.
type premiumCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func newPremiumCache(client redis.Cmdable, ttl time.Duration) *premiumCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &premiumCache{client: client, ttl: ttl}
}

func (c *premiumCache) get(ctx context.Context, email string) (domain.PremiumStatus, bool) {
	var status domain.PremiumStatus
	if c == nil {
		return status, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	raw, err := c.client.Get(ctx, premiumKeyPrefix+email).Bytes()
	if errors.Is(err, redis.Nil) {
		return status, false
	}
	if err != nil {
		slog.Warn("premium cache read failed", "err", err)
		return status, false
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.PremiumStatus{}, false
	}
	return status, true
}

func (c *premiumCache) put(ctx context.Context, email string, status domain.PremiumStatus) {
	if c == nil {
		return
	}
	status.Token = ""
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, premiumKeyPrefix+email, raw, c.ttl).Err(); err != nil {
		slog.Warn("premium cache write failed", "err", err)
	}
}

// rememberCustomer maps a provider customer id to its email so webhook
// events that only name the customer can still invalidate the cache.
func (c *premiumCache) rememberCustomer(ctx context.Context, customerID, email string) {
	if c == nil || customerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, customerKeyPrefix+customerID, email, 30*24*time.Hour).Err(); err != nil {
		slog.Warn("customer mapping write failed", "err", err)
	}
}

func (c *premiumCache) emailFor(ctx context.Context, customerID string) string {
	if c == nil || customerID == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	email, err := c.client.Get(ctx, customerKeyPrefix+customerID).Result()
	if err != nil {
		return ""
	}
	return email
}

func (c *premiumCache) invalidate(ctx context.Context, email string) error {
	if c == nil || email == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, premiumKeyPrefix+email).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
