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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/shared/logger"
)

func newTestRedisLimiter(t *testing.T, perMinute int) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rl, err := NewRedisRateLimiter(context.Background(), "redis://"+mr.Addr(), perMinute, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rl.Close() })
	return rl, mr
}

func TestRedisRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	rl, mr := newTestRedisLimiter(t, 3)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow(ctx, "orders"), "call %d", i)
		now = now.Add(time.Second)
	}
	err := rl.Allow(ctx, "orders")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	assert.NoError(t, rl.Allow(ctx, "reports"), "keys are independent")

	count, err := rl.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "rejected calls are recorded too")
	assert.True(t, mr.Exists(rateLimitKeyPrefix+"orders"))
	assert.Greater(t, mr.TTL(rateLimitKeyPrefix+"orders"), time.Duration(0))

	now = now.Add(61 * time.Second)
	assert.NoError(t, rl.Allow(ctx, "orders"), "window has slid past earlier calls")

	count, err = rl.Count(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	rl, mr := newTestRedisLimiter(t, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.Allow(context.Background(), "orders"))
	}
	_, err := rl.Count(context.Background(), "orders")
	assert.Error(t, err)
}

func TestNewRedisRateLimiter_Errors(t *testing.T) {
	_, err := NewRedisRateLimiter(context.Background(), "not a url", 10, logger.Nop())
	assert.Error(t, err)

	_, err = NewRedisRateLimiter(context.Background(), "redis://127.0.0.1:1", 10, logger.Nop())
	assert.Error(t, err)
}

func TestNewRateLimiter(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, NewRateLimiter(ctx, "", 0, logger.Nop()))
	assert.Nil(t, NewRateLimiter(ctx, "redis://127.0.0.1:1", -1, logger.Nop()))

	_, ok := NewRateLimiter(ctx, "", 10, logger.Nop()).(*MemoryRateLimiter)
	assert.True(t, ok)

	_, ok = NewRateLimiter(ctx, "redis://127.0.0.1:1", 10, logger.Nop()).(*MemoryRateLimiter)
	assert.True(t, ok, "unreachable Redis falls back to memory")

	mr := miniredis.RunT(t)
	rl := NewRateLimiter(ctx, "redis://"+mr.Addr(), 10, logger.Nop())
	redisLimiter, ok := rl.(*RedisRateLimiter)
	require.True(t, ok)
	_ = redisLimiter.Close()
}

func TestMemoryRateLimiter(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRateLimiter(2)

	require.NoError(t, m.Allow(ctx, "a"))
	require.NoError(t, m.Allow(ctx, "a"))
	err := m.Allow(ctx, "a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	assert.NoError(t, m.Allow(ctx, "b"))

	m.Forget("a")
	assert.NoError(t, m.Allow(ctx, "a"), "forgotten key starts with a full bucket")
}
