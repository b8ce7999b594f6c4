package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"optin/internal/events"
	"optin/internal/optin/models"
	"optin/internal/optin/store"
	dErrors "optin/pkg/domain-errors"
	"optin/pkg/platform/sentinel"
	"optin/pkg/requestcontext"
)

type expiredRecorder struct {
	mu  sync.Mutex
	got []events.Expired
}

func (r *expiredRecorder) Handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok := e.(events.Expired); ok {
		r.got = append(r.got, ex)
	}
	return nil
}

type SweeperSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	events  *expiredRecorder
	sweeper *Sweeper
	now     time.Time
	ctx     context.Context
}

func TestSweeperSuite(t *testing.T) {
	suite.Run(t, new(SweeperSuite))
}

func (s *SweeperSuite) SetupTest() {
	s.now = time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.store = store.NewInMemoryStore()
	s.events = &expiredRecorder{}

	bus := events.NewBus()
	bus.Subscribe("recorder", s.events)

	sw, err := New(s.store, bus, Policy{Unconfirmed: 14 * 24 * time.Hour, Confirmed: 0})
	s.Require().NoError(err)
	s.sweeper = sw
}

func (s *SweeperSuite) seed(token string, status models.Status, age time.Duration) {
	ok, err := s.store.Put(s.ctx, &models.OptInRecord{
		ID:        token,
		Token:     token,
		Status:    status,
		Email:     token + "@example.com",
		CreatedAt: s.now.Add(-age),
	}, nil)
	s.Require().NoError(err)
	s.Require().True(ok)
}

func (s *SweeperSuite) exists(token string) bool {
	_, err := s.store.Get(s.ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false
	}
	s.Require().NoError(err)
	return true
}

func (s *SweeperSuite) TestStatusIsolation() {
	day := 24 * time.Hour
	s.seed("pending-old", models.StatusPending, 400*day)
	s.seed("confirmed-old", models.StatusConfirmed, 400*day)
	s.seed("optedout-old", models.StatusOptedOut, 400*day)

	res, err := s.sweeper.SweepUnconfirmed(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(1, res.RowsDeleted)
	s.False(s.exists("pending-old"))
	s.True(s.exists("confirmed-old"))

	s.seed("pending-old-2", models.StatusPending, 400*day)
	res, err = s.sweeper.SweepConfirmed(s.ctx, day)
	s.Require().NoError(err)
	s.Equal(1, res.RowsDeleted)
	s.False(s.exists("confirmed-old"))
	s.True(s.exists("pending-old-2"))
	s.True(s.exists("optedout-old"), "opted-out records belong to neither class")
}

func (s *SweeperSuite) TestThresholdBoundary() {
	s.seed("at", models.StatusPending, time.Hour)
	s.seed("younger", models.StatusPending, time.Hour-time.Second)

	res, err := s.sweeper.SweepUnconfirmed(s.ctx, time.Hour)
	s.Require().NoError(err)
	s.Equal(1, res.RowsDeleted)
	s.Equal(s.now.Add(-time.Hour), res.Cutoff)
	s.False(s.exists("at"), "age equal to the threshold is deleted")
	s.True(s.exists("younger"))
}

func (s *SweeperSuite) TestDisabledThresholdNeverDeletes() {
	s.seed("ancient", models.StatusConfirmed, 10*365*24*time.Hour)

	for _, threshold := range []time.Duration{0, -time.Hour} {
		res, err := s.sweeper.SweepConfirmed(s.ctx, threshold)
		s.Require().NoError(err)
		s.True(res.Skipped)
		s.Zero(res.RowsDeleted)
	}
	s.True(s.exists("ancient"))
	s.Empty(s.events.got)
}

func (s *SweeperSuite) TestCleanNowIgnoresPolicy() {
	s.seed("fresh-confirmed", models.StatusConfirmed, 0)
	s.seed("fresh-pending", models.StatusPending, time.Minute)

	res, err := s.sweeper.CleanNow(s.ctx, ClassConfirmed)
	s.Require().NoError(err)
	s.True(res.Forced)
	s.Equal(1, res.RowsDeleted)
	s.False(s.exists("fresh-confirmed"))
	s.True(s.exists("fresh-pending"))

	s.Require().Len(s.events.got, 1)
	s.True(s.events.got[0].Forced)

	_, err = s.sweeper.CleanNow(s.ctx, Class("everything"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *SweeperSuite) TestOneAggregateEventPerPass() {
	for _, tok := range []string{"a", "b", "c", "d"} {
		s.seed(tok, models.StatusPending, 30*24*time.Hour)
	}

	results, err := s.sweeper.Run(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Equal(4, results[0].RowsDeleted)
	s.True(results[1].Skipped, "confirmed retention 0 disables the pass")

	s.Require().Len(s.events.got, 1)
	ev := s.events.got[0]
	s.Equal("unconfirmed", ev.Class)
	s.Equal(4, ev.RowsDeleted)
	s.Equal(s.now.Add(-14*24*time.Hour), ev.Cutoff)

	results, err = s.sweeper.Run(s.ctx)
	s.Require().NoError(err)
	s.Zero(results[0].RowsDeleted, "a second pass finds nothing left")
	s.Len(s.events.got, 1, "no event for an empty pass")
}

func (s *SweeperSuite) TestSweptTokensStayGone() {
	s.seed("swept", models.StatusPending, 30*24*time.Hour)
	_, err := s.sweeper.SweepUnconfirmed(s.ctx, 24*time.Hour)
	s.Require().NoError(err)

	ok, err := s.store.Put(s.ctx, &models.OptInRecord{Token: "swept", Status: models.StatusPending, CreatedAt: s.now}, nil)
	s.Require().NoError(err)
	s.False(ok)
}

type failingStore struct{ err error }

func (f failingStore) DeleteByStatusOlderThan(context.Context, models.Status, time.Time) (int, error) {
	return 0, f.err
}

func TestRun_StoreFailure(t *testing.T) {
	boom := errors.New("db unavailable")
	sw, err := New(failingStore{err: boom}, events.NewBus(), Policy{Unconfirmed: time.Hour, Confirmed: time.Hour})
	require.NoError(t, err)

	results, err := sw.Run(context.Background())
	assert.Empty(t, results)
	assert.ErrorIs(t, err, boom)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestWithClock_DrivesCutoff(t *testing.T) {
	now := time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	ctx := context.Background()
	for token, age := range map[string]time.Duration{"old": 15 * 24 * time.Hour, "new": 13 * 24 * time.Hour} {
		ok, err := st.Put(ctx, &models.OptInRecord{
			ID:        token,
			Token:     token,
			Status:    models.StatusPending,
			Email:     token + "@example.com",
			CreatedAt: now.Add(-age),
		}, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	sw, err := New(st, events.NewBus(), Policy{Unconfirmed: 14 * 24 * time.Hour},
		WithClock(func(context.Context) time.Time { return now }),
	)
	require.NoError(t, err)

	// The request context carries a different instant; the configured clock wins.
	ctx = requestcontext.WithTime(ctx, now.Add(30*24*time.Hour))
	res, err := sw.SweepUnconfirmed(ctx, 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowsDeleted)
	assert.Equal(t, now.Add(-14*24*time.Hour), res.Cutoff)

	_, err = st.Get(ctx, "new")
	assert.NoError(t, err)
	_, err = st.Get(ctx, "old")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("confirmed")
	require.NoError(t, err)
	assert.Equal(t, ClassConfirmed, c)

	_, err = ParseClass("pending")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) Run(context.Context) ([]*Result, error) {
	c.calls.Add(1)
	return nil, c.err
}

func TestScheduler_RunsAtStartAndOnTick(t *testing.T) {
	runner := &countingRunner{err: errors.New("transient")}
	sched := NewScheduler(runner, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, 5*time.Millisecond,
		"a failed pass does not stop the schedule")
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestScheduler_DisabledInterval(t *testing.T) {
	runner := &countingRunner{}
	sched := NewScheduler(runner, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Run(ctx), context.DeadlineExceeded)
	assert.Zero(t, runner.calls.Load())
}
