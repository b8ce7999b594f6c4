package window

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"optin/internal/ratelimit/models"
)

var allowDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "optin_ratelimit_redis_allow_duration_ms",
	Help:    "Latency of Redis rate limit checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// fixedWindowScript increments the key and opens the window on first use.
// The key's TTL is the window: expiry is what starts the next window.
// Returns {count, remaining ttl in ms}.
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RedisStore keeps fixed windows in Redis so every instance shares one
// counter space. The script runs atomically, so two concurrent calls for the
// same key cannot both take the last slot.
type RedisStore struct {
	client redis.Scripter
	clock  func() time.Time
}

// NewRedis constructs a Redis-backed window store.
func NewRedis(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	start := time.Now()
	defer func() {
		allowDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	now := s.clock()
	if limit <= 0 || window <= 0 {
		return models.Unlimited(now), nil
	}

	vals, err := fixedWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis fixed window: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis fixed window: unexpected reply length %d", len(vals))
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	windowStart := now.Add(ttl - window)
	return models.NewResult(count, limit, windowStart, window, now), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	c, ok := s.client.(redis.Cmdable)
	if !ok {
		return fmt.Errorf("redis reset: client does not support DEL")
	}
	return c.Del(ctx, key).Err()
}
