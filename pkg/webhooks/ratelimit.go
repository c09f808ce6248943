package webhooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RateLimiter gates outbound attempts per destination. Allow reserves one
// slot in the destination's current window; false means the caller must
// record a rate_limited outcome and make no network call.
type RateLimiter interface {
	Allow(ctx context.Context, webhookID string, limitPerMinute int) (bool, error)
}

// WindowLimiter is a fixed 60-second window counter per destination.
// Bursts at window boundaries are accepted as a known approximation of a
// true sliding window. State is process-local and resets on restart.
type WindowLimiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	// Now is overridable for tests
	Now func() time.Time
}

type window struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// NewWindowLimiter creates an in-memory fixed-window limiter
func NewWindowLimiter() *WindowLimiter {
	return &WindowLimiter{
		windows: make(map[string]*window),
		Now:     time.Now,
	}
}

// Allow implements RateLimiter. The outer lock only guards map access;
// counting happens under the per-destination lock so destinations never
// serialize each other.
func (l *WindowLimiter) Allow(_ context.Context, webhookID string, limitPerMinute int) (bool, error) {
	l.mu.RLock()
	w, ok := l.windows[webhookID]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		w, ok = l.windows[webhookID]
		if !ok {
			w = &window{}
			l.windows[webhookID] = w
		}
		l.mu.Unlock()
	}

	now := l.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(time.Minute)
	}
	if w.count >= limitPerMinute {
		return false, nil
	}
	w.count++
	return true, nil
}

// Remaining reports the unused quota in the current window
func (l *WindowLimiter) Remaining(webhookID string, limitPerMinute int) int {
	l.mu.RLock()
	w, ok := l.windows[webhookID]
	l.mu.RUnlock()
	if !ok {
		return limitPerMinute
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !l.Now().Before(w.resetAt) {
		return limitPerMinute
	}
	remaining := limitPerMinute - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RedisLimiter is a Redis-backed fixed-window limiter for deployments
// running more than one instance against a shared global limit. It fails
// open on Redis errors so a cache outage cannot stop deliveries.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "hookrelay:ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow implements RateLimiter using an INCR+EXPIRE pipeline
func (l *RedisLimiter) Allow(ctx context.Context, webhookID string, limitPerMinute int) (bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, webhookID)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(limitPerMinute), nil
}
