package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/daleelbalady/payment-engine/internal/domain"
	pkgredis "github.com/daleelbalady/payment-engine/pkg/redis"
	"github.com/google/uuid"
)

// AttemptCounter records a payment-creation attempt and reports how many
// attempts the key has made inside the sliding window, plus the timestamp
// of the oldest attempt still inside it. Implementations must be safe for
// concurrent use. The abstraction lets an in-process map and a shared
// Redis counter be swapped without touching the limiter.
type AttemptCounter interface {
	Record(ctx context.Context, key string, now time.Time, window time.Duration) (count int64, oldest time.Time, err error)
}

// RateLimiter bounds payment-creation attempts per (userId or IP) key
// using a sliding window.
type RateLimiter struct {
	counter AttemptCounter
	limit   int64
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit attempts per window.
func NewRateLimiter(counter AttemptCounter, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, limit: limit, window: window}
}

// Allow records an attempt for key and returns ErrRateLimited plus a
// retry-after hint once the window is saturated. Counter failures fail
// open: an unreachable counter store must not block payments.
func (l *RateLimiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	now := time.Now().UTC()
	count, oldest, err := l.counter.Record(ctx, key, now, l.window)
	if err != nil {
		return 0, nil
	}
	if count <= l.limit {
		return 0, nil
	}
	retryAfter := l.window - now.Sub(oldest)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter, domain.ErrRateLimited
}

// MemoryCounter is the in-process AttemptCounter for single-instance
// deployments and tests.
type MemoryCounter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{attempts: make(map[string][]time.Time)}
}

// Record implements AttemptCounter.
func (c *MemoryCounter) Record(_ context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-window)
	kept := c.attempts[key][:0]
	for _, at := range c.attempts[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	kept = append(kept, now)
	c.attempts[key] = kept

	return int64(len(kept)), kept[0], nil
}

// slidingWindowScript trims expired attempts, records the new one and
// reports the count plus the oldest surviving attempt in one round trip.
const slidingWindowScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
local count = redis.call('ZCARD', KEYS[1])
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {count, oldest[2]}
`

const slidingWindowScriptName = "payment_attempt_window"

// RedisCounter is the shared AttemptCounter for multi-instance
// deployments, backed by a sorted set per key.
type RedisCounter struct {
	client *pkgredis.Client
	prefix string
}

// NewRedisCounter creates a Redis-backed counter.
func NewRedisCounter(client *pkgredis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: "payment_attempts:"}
}

// Record implements AttemptCounter.
func (c *RedisCounter) Record(ctx context.Context, key string, now time.Time, window time.Duration) (int64, time.Time, error) {
	nowMs := now.UnixMilli()
	cutoffMs := now.Add(-window).UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.New().String())

	res, err := c.client.EvalWithFallback(ctx, slidingWindowScriptName, slidingWindowScript,
		[]string{c.prefix + key},
		cutoffMs, nowMs, member, window.Milliseconds(),
	).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to record attempt: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected script result: %v", res)
	}
	count, _ := values[0].(int64)
	oldestMs := nowMs
	if s, ok := values[1].(string); ok {
		if parsed, perr := strconv.ParseFloat(s, 64); perr == nil {
			oldestMs = int64(parsed)
		}
	}
	return count, time.UnixMilli(oldestMs).UTC(), nil
}
