package window

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 3
	testWindow = time.Hour
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) allow(key string) bool {
	res, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
	s.Require().NoError(err)
	return res.Allowed
}

func (s *InMemoryStoreSuite) TestAllow() {
	s.Run("limit of three admits three then denies", func() {
		key := "optin:rl:email:a@x.com"
		got := []bool{s.allow(key), s.allow(key), s.allow(key), s.allow(key)}
		s.Equal([]bool{true, true, true, false}, got)
	})

	s.Run("denied calls still count", func() {
		key := "optin:rl:ip:denied"
		for range 5 {
			s.allow(key)
		}
		count, err := s.store.GetCurrentCount(s.ctx, key)
		s.Require().NoError(err)
		s.Equal(5, count)
	})

	s.Run("remaining and reset time", func() {
		res, err := s.store.Allow(s.ctx, "optin:rl:ip:remaining", testLimit, testWindow)
		s.Require().NoError(err)
		s.Equal(testLimit, res.Limit)
		s.Equal(testLimit-1, res.Remaining)
		s.Equal(s.now.Add(testWindow), res.ResetAt)
	})

	s.Run("retry after is set on denial", func() {
		key := "optin:rl:ip:retry"
		for range testLimit {
			s.allow(key)
		}
		res, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Equal(int(testWindow.Seconds()), res.RetryAfter)
	})

	s.Run("keys are independent", func() {
		for range testLimit {
			s.allow("optin:rl:ip:k1")
		}
		s.False(s.allow("optin:rl:ip:k1"))
		s.True(s.allow("optin:rl:ip:k2"))
	})

	s.Run("non-positive limit never denies", func() {
		for range 10 {
			res, err := s.store.Allow(s.ctx, "optin:rl:ip:disabled", 0, testWindow)
			s.Require().NoError(err)
			s.True(res.Allowed)
		}
	})
}

func (s *InMemoryStoreSuite) TestWindowBoundary() {
	key := "optin:rl:email:boundary@x.com"
	for range testLimit {
		s.True(s.allow(key))
	}
	s.False(s.allow(key))

	s.now = s.now.Add(testWindow - time.Second)
	s.False(s.allow(key), "window still open one second before its end")

	s.now = s.now.Add(time.Second)
	s.True(s.allow(key), "a call exactly one window after start opens a new window")
	count, err := s.store.GetCurrentCount(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryStoreSuite) TestReset() {
	key := "optin:rl:ip:reset"
	for range testLimit + 1 {
		s.allow(key)
	}
	s.Require().NoError(s.store.Reset(s.ctx, key))
	s.True(s.allow(key))
}

func (s *InMemoryStoreSuite) TestPrune() {
	s.allow("optin:rl:ip:old")
	s.now = s.now.Add(30 * time.Minute)
	s.allow("optin:rl:ip:fresh")
	s.now = s.now.Add(30 * time.Minute)

	removed, err := s.store.Prune(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, removed)

	count, err := s.store.GetCurrentCount(s.ctx, "optin:rl:ip:fresh")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryStoreSuite) TestConcurrentAllow() {
	const goroutines = 50
	key := "optin:rl:ip:concurrent"

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(s.ctx, key, testLimit, testWindow)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(testLimit), allowed.Load())
}
