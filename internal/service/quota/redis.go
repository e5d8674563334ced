package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps day-keyed counters around long enough to survive clock
// skew between instances, then lets Redis garbage-collect them.
const counterTTL = 48 * time.Hour

// Lua runs the read-check-increment as one atomic step on the Redis side.
const luaCheckAndIncrement = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local count = tonumber(redis.call("GET", key) or "0")

if limit >= 0 and count >= limit then
  return { count, 0 }
end

count = redis.call("INCR", key)
if count == 1 then
  redis.call("EXPIRE", key, ttl)
end

return { count, 1 }
`

// RedisStore is a Store backed by a shared Redis instance, for deployments
// running more than one process. Counter updates are linearizable because
// the script executes atomically per key.
type RedisStore struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRedisStore builds a RedisStore over the given client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, script: redis.NewScript(luaCheckAndIncrement)}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, limit int) (int, bool, error) {
	res, err := s.script.Run(ctx, s.rdb, []string{key}, limit, int(counterTTL.Seconds())).Result()
	if err != nil {
		return 0, false, fmt.Errorf("quota script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return 0, false, fmt.Errorf("quota script: unexpected result %v", res)
	}
	count := toInt(vals[0])
	allowed := toInt(vals[1]) == 1
	return count, allowed, nil
}

// Get implements Store. A missing key reads as zero.
func (s *RedisStore) Get(ctx context.Context, key string) (int, error) {
	n, err := s.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get: %w", err)
	}
	return n, nil
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}
