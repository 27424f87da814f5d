// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"axonflow/sqlgate/shared/logger"
)

const (
	rateLimitWindow    = time.Minute
	rateLimitKeyPrefix = "sqlgate:ratelimit:"
	redisPingTimeout   = 5 * time.Second
)

// ErrRateLimited is wrapped by every limiter rejection.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimiter admits or rejects one call for a key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// NewRateLimiter returns a Redis-backed limiter when redisURL is set and
// reachable, an in-memory limiter otherwise, and nil when perMinute is not
// positive.
func NewRateLimiter(ctx context.Context, redisURL string, perMinute int, l *logger.Logger) RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if l == nil {
		l = logger.New("rate_limit")
	}
	if redisURL != "" {
		rl, err := NewRedisRateLimiter(ctx, redisURL, perMinute, l)
		if err == nil {
			return rl
		}
		l.Warn("Redis unavailable, using in-memory rate limiting", zap.Error(err))
	}
	return NewMemoryRateLimiter(perMinute)
}

// MemoryRateLimiter is a per-key token bucket refilled at perMinute/60
// tokens per second with a burst of perMinute.
type MemoryRateLimiter struct {
	perMinute int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMemoryRateLimiter(perMinute int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string) error {
	m.mu.Lock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(m.perMinute)/rateLimitWindow.Seconds()), m.perMinute)
		m.limiters[key] = lim
	}
	m.mu.Unlock()

	if !lim.Allow() {
		return fmt.Errorf("%w: limit %d requests/minute", ErrRateLimited, m.perMinute)
	}
	return nil
}

// Forget drops the bucket of key.
func (m *MemoryRateLimiter) Forget(key string) {
	m.mu.Lock()
	delete(m.limiters, key)
	m.mu.Unlock()
}

// RedisRateLimiter is a sliding one-minute window shared by every agent
// instance. Redis errors fail open.
type RedisRateLimiter struct {
	client    *redis.Client
	perMinute int
	now       func() time.Time
	log       *logger.Logger
}

// NewRedisRateLimiter connects to redisURL (redis://host:port/db) and
// verifies it with a ping.
func NewRedisRateLimiter(ctx context.Context, redisURL string, perMinute int, l *logger.Logger) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if l == nil {
		l = logger.New("rate_limit")
	}
	l.Info("Redis rate limiting enabled", zap.String("addr", opts.Addr), zap.Int("per_minute", perMinute))
	return &RedisRateLimiter{client: client, perMinute: perMinute, now: time.Now, log: l}, nil
}

// Allow records the call and rejects it when the window already holds
// perMinute calls.
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) error {
	now := r.now()
	redisKey := rateLimitKeyPrefix + key

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+strconv.FormatInt(now.Add(-rateLimitWindow).UnixMilli(), 10))
	card := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, redisKey, 2*rateLimitWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("Redis rate limit check failed, failing open", logger.ConnectionID(key), zap.Error(err))
		return nil
	}
	if count := card.Val(); count >= int64(r.perMinute) {
		return fmt.Errorf("%w: %d requests in the last minute (limit %d)", ErrRateLimited, count, r.perMinute)
	}
	return nil
}

// Count returns the number of calls recorded for key in the current
// window.
func (r *RedisRateLimiter) Count(ctx context.Context, key string) (int64, error) {
	floor := strconv.FormatInt(r.now().Add(-rateLimitWindow).UnixMilli(), 10)
	n, err := r.client.ZCount(ctx, rateLimitKeyPrefix+key, floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit status: %w", err)
	}
	return n, nil
}

// Close closes the Redis client.
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
