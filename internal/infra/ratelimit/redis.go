package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keyd/internal/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "keyd:ratelimit:"

var errBadScriptReply = errors.New("unexpected redis rate limit reply")

// The expiry is re-armed whenever the counter has none, so a window can never
// outlive a lost PEXPIRE.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

type RedisLimiterConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Now      func() time.Time
}

// RedisLimiter shares fixed windows between replicas.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter connects and pings Redis; an unreachable server is an error.
func NewRedisLimiter(ctx context.Context, cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &RedisLimiter{client: client, prefix: cfg.Prefix, now: cfg.Now}, nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	reply, err := windowScript.Run(ctx, r.client, []string{r.prefix + key}, ms).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	count, ttl, err := parseWindowReply(reply)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return windowDecision(limit, count, r.now().Add(time.Duration(ttl)*time.Millisecond)), nil
}

func parseWindowReply(reply any) (count, ttlMillis int64, err error) {
	values, ok := reply.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, errBadScriptReply
	}
	count, ok = values[0].(int64)
	if !ok {
		return 0, 0, errBadScriptReply
	}
	ttlMillis, ok = values[1].(int64)
	if !ok || ttlMillis < 0 {
		ttlMillis = 0
	}
	return count, ttlMillis, nil
}

func windowDecision(limit int, count int64, resetAt time.Time) domain.RateLimitDecision {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= int64(limit),
		Limit:     limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
