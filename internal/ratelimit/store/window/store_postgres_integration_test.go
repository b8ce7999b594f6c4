//go:build integration

package window_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"optin/internal/ratelimit/store/window"
	"optin/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *window.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = window.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "rate_limit_windows"))
}

func (s *PostgresStoreSuite) TestFixedWindow() {
	ctx := context.Background()
	var got []bool
	for range 4 {
		res, err := s.store.Allow(ctx, "optin:rl:email:pg@x.com", 3, time.Hour)
		s.Require().NoError(err)
		got = append(got, res.Allowed)
	}
	s.Equal([]bool{true, true, true, false}, got)
}

// TestConcurrentAllow verifies the upsert serializes concurrent calls on one
// key so exactly limit calls are admitted.
func (s *PostgresStoreSuite) TestConcurrentAllow() {
	ctx := context.Background()
	const goroutines = 50
	const limit = 10

	var wg sync.WaitGroup
	var allowed atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Allow(ctx, "optin:rl:ip:concurrent", limit, time.Minute)
			if err == nil && res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(limit), allowed.Load())
}

func (s *PostgresStoreSuite) TestResetAndPrune() {
	ctx := context.Background()
	_, err := s.store.Allow(ctx, "optin:rl:ip:a", 1, time.Minute)
	s.Require().NoError(err)
	_, err = s.store.Allow(ctx, "optin:rl:ip:b", 1, time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(ctx, "optin:rl:ip:a"))
	res, err := s.store.Allow(ctx, "optin:rl:ip:a", 1, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)

	removed, err := s.store.Prune(ctx, -time.Minute)
	s.Require().NoError(err)
	s.Equal(2, removed)
}
