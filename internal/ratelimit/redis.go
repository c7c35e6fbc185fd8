package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeScript performs the whole read-check-increment cycle atomically on the
// Redis side, which makes the limiter safe across many API instances. Keys
// carry a TTL of two windows, so stale counters expire on their own instead
// of needing an explicit sweep.
var takeScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local prev = 0
if ARGV[3] == '1' then
  prev = tonumber(redis.call('GET', KEYS[2]) or '0')
end
local total = cur + prev
if total >= tonumber(ARGV[1]) then
  return {0, total}
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return {1, total + 1}
`)

// RedisStore is a Store backed by Redis counters, one key per
// (identifier, action, aligned window).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func counterKey(identifier, action string, start time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", identifier, action, start.UnixMilli())
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, identifier, action string, rule Rule, now time.Time) (Decision, error) {
	cur := windowStart(now, rule.Window)
	prev := cur.Add(-rule.Window)

	// The previous aligned window only falls inside the lookback at an exact
	// boundary instant; the flag keeps the Lua side branch-free otherwise.
	includePrev := "0"
	earliest := cur
	if !prev.Before(now.Add(-rule.Window)) {
		includePrev = "1"
		earliest = prev
	}

	keys := []string{
		counterKey(identifier, action, cur),
		counterKey(identifier, action, prev),
	}
	args := []interface{}{
		rule.Max,
		(2 * rule.Window).Milliseconds(),
		includePrev,
	}

	res, err := takeScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit take: %w", err)
	}
	if len(res) < 2 {
		return Decision{}, fmt.Errorf("rate limit take: short reply")
	}

	if res[0] == 0 {
		return Decision{Allowed: false, RetryAfter: earliest.Add(rule.Window).Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: rule.Max - int(res[1])}, nil
}
