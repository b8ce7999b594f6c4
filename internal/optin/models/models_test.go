package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "optin/pkg/domain-errors"
)

func TestIsExpired(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threshold := 48 * time.Hour
	pending := &OptInRecord{Status: StatusPending, CreatedAt: t0}

	t.Run("one second before threshold is live", func(t *testing.T) {
		assert.False(t, pending.IsExpired(t0.Add(threshold-time.Second), threshold))
	})

	t.Run("exactly at threshold is live", func(t *testing.T) {
		assert.False(t, pending.IsExpired(t0.Add(threshold), threshold))
	})

	t.Run("one second after threshold is expired", func(t *testing.T) {
		assert.True(t, pending.IsExpired(t0.Add(threshold+time.Second), threshold))
	})

	t.Run("zero threshold never expires", func(t *testing.T) {
		assert.False(t, pending.IsExpired(t0.Add(10*365*24*time.Hour), 0))
	})

	t.Run("confirmed never expires", func(t *testing.T) {
		confirmed := &OptInRecord{Status: StatusConfirmed, CreatedAt: t0}
		assert.False(t, confirmed.IsExpired(t0.Add(threshold*10), threshold))
	})
}

func TestClone(t *testing.T) {
	optedOut := time.Now()
	orig := &OptInRecord{
		Token:           "tok",
		OptedOutAt:      &optedOut,
		ContentSnapshot: []byte("hello"),
		Files:           []string{"a.pdf"},
	}
	c := orig.Clone()
	c.ContentSnapshot[0] = 'j'
	c.Files[0] = "b.pdf"
	*c.OptedOutAt = optedOut.Add(time.Hour)

	assert.Equal(t, "hello", string(orig.ContentSnapshot))
	assert.Equal(t, "a.pdf", orig.Files[0])
	assert.Equal(t, optedOut, *orig.OptedOutAt)
	assert.Nil(t, (*OptInRecord)(nil).Clone())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, st)

	_, err = ParseStatus("expired")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestResultOK(t *testing.T) {
	assert.True(t, (&Result{Outcome: OutcomeConfirmed}).OK())
	assert.False(t, (&Result{Outcome: OutcomeAlreadyConfirmed}).OK())
	assert.False(t, (&Result{Outcome: OutcomeRateLimited, Scope: "ip"}).OK())
}
