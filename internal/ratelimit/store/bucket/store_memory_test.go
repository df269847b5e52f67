package bucket

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.store = NewInMemoryBucketStore()
	s.ctx = context.Background()
	s.now = time.Date(2025, 6, 2, 9, 0, 10, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "key:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(time.Date(2025, 6, 2, 9, 1, 0, 0, time.UTC), result.ResetAt)
	})

	s.Run("request over limit denied with retry after", func() {
		for range testLimit {
			result, err := s.store.Allow(s.ctx, "key:over", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
		}
		result, err := s.store.Allow(s.ctx, "key:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(50, result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		result, err := s.store.Allow(s.ctx, "key:other", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestWindowRollover() {
	for range testLimit + 1 {
		_, err := s.store.Allow(s.ctx, "key:roll", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.now = s.now.Add(testWindow)

	result, err := s.store.Allow(s.ctx, "key:roll", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryBucketStoreSuite) TestSweep() {
	_, err := s.store.Allow(s.ctx, "key:stale", testLimit, testWindow)
	s.Require().NoError(err)
	s.now = s.now.Add(2 * testWindow)
	_, err = s.store.Allow(s.ctx, "key:fresh", testLimit, testWindow)
	s.Require().NoError(err)

	s.Equal(1, s.store.Sweep(testWindow))
}

func (s *InMemoryBucketStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	const goroutines = 50
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "key:concurrent", testLimit, testWindow)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(testLimit), allowed.Load())
}
