package locations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

// Cache keeps recently resolved aliases close to the API.
type Cache interface {
	Get(ctx context.Context, alias string) (*Location, bool, error)
	Set(ctx context.Context, alias string, loc Location) error
	Delete(ctx context.Context, alias string) error
}

type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	LocationKey(alias string) string
}

// RedisCache stores resolved locations as JSON under cm:location:<alias>.
type RedisCache struct {
	store redisStore
	ttl   time.Duration
}

func NewRedisCache(store redisStore, ttl time.Duration) (*RedisCache, error) {
	if store == nil {
		return nil, errors.New("redis store required")
	}
	return &RedisCache{store: store, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, alias string) (*Location, bool, error) {
	raw, err := c.store.Get(ctx, c.store.LocationKey(alias))
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		// Unreadable entries are dropped rather than served.
		_ = c.store.Del(ctx, c.store.LocationKey(alias))
		return nil, false, nil
	}
	return &loc, true, nil
}

func (c *RedisCache) Set(ctx context.Context, alias string, loc Location) error {
	payload, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.store.LocationKey(alias), string(payload), c.ttl)
}

func (c *RedisCache) Delete(ctx context.Context, alias string) error {
	return c.store.Del(ctx, c.store.LocationKey(alias))
}

// NoopCache is used when Redis is not configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Location, bool, error) { return nil, false, nil }
func (NoopCache) Set(context.Context, string, Location) error          { return nil }
func (NoopCache) Delete(context.Context, string) error                 { return nil }
