package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowIncr bumps a counter and starts its window on the first hit, in one round trip.
var windowIncr = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

// ownerDelete removes a key only while it still holds the caller's token.
var ownerDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// FixedWindowAllow counts a hit against scope and reports whether it is within limit for the
// current window. The returned count includes this hit.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if err := c.ready(); err != nil {
		return false, 0, err
	}
	if window <= 0 {
		window = time.Minute
	}
	count, err := windowIncr.Run(ctx, c.rdb, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// CompareAndDelete deletes key only while it holds value and reports whether it did.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := ownerDelete.Run(ctx, c.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
