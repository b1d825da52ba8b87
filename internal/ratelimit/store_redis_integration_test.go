//go:build integration

package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"lifeline/internal/ratelimit"
	"lifeline/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = ratelimit.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	err := s.redis.FlushAll(context.Background())
	s.Require().NoError(err)
}

// TestCountdown verifies the fixed window counts down and then blocks.
func (s *RedisStoreSuite) TestCountdown() {
	ctx := context.Background()
	key := "limit:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		result, err := s.store.Allow(ctx, key, 3, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(3-i-1, result.Remaining)
	}

	result, err := s.store.Allow(ctx, key, 3, time.Minute)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(0, result.Remaining)
	s.Positive(result.RetryAfter)
}

// TestWindowReset verifies the window TTL resets the budget.
func (s *RedisStoreSuite) TestWindowReset() {
	ctx := context.Background()
	key := "limit:" + uuid.NewString()

	result, err := s.store.Allow(ctx, key, 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.store.Allow(ctx, key, 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(result.Allowed)

	time.Sleep(300 * time.Millisecond)
	result, err = s.store.Allow(ctx, key, 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

// TestConcurrentAccounting verifies racing requests never over-admit:
// INCR is atomic, so exactly limit requests pass per window.
func (s *RedisStoreSuite) TestConcurrentAccounting() {
	ctx := context.Background()
	key := "limit:" + uuid.NewString()
	const limit = 10
	const goroutines = 30

	var wg sync.WaitGroup
	var allowed atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(ctx, key, limit, time.Minute)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load(), "exactly the limit should be admitted")
}
