package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResult(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := time.Minute

	t.Run("count at limit is allowed", func(t *testing.T) {
		res := NewResult(3, 3, start, window, start.Add(10*time.Second))
		assert.True(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, start.Add(window), res.ResetAt)
		assert.Zero(t, res.RetryAfter)
	})

	t.Run("count over limit is denied with retry after", func(t *testing.T) {
		res := NewResult(4, 3, start, window, start.Add(10*time.Second))
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, 50, res.RetryAfter)
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, "optin:rl:email:a@x.com", Key(ScopeEmail, "A@x.com"))
	assert.Equal(t, "optin:rl:ip:user%3Aadmin", Key(ScopeIP, "user:admin"))
	assert.Equal(t, "optin:rl:ip:2001%3Adb8%3A%3A1", Key(ScopeIP, "2001:db8::1"))
	assert.NotEqual(t, Key(ScopeIP, "1.2.3.4"), Key(ScopeEmail, "1.2.3.4"))
}

func TestSanitizeKeySegment_Injective(t *testing.T) {
	inputs := []string{"a:b", "a_b", "a%3Ab", "a%b", "a%253Ab", "a::b", "a%3A%3Ab"}
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		out := SanitizeKeySegment(in)
		assert.NotContains(t, out, ":", in)
		if prev, dup := seen[out]; dup {
			t.Fatalf("%q and %q both encode to %q", prev, in, out)
		}
		seen[out] = in
	}
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("email")
	require.NoError(t, err)
	assert.Equal(t, ScopeEmail, s)

	_, err = ParseScope("user")
	require.Error(t, err)
}

func TestLimitDisabled(t *testing.T) {
	assert.True(t, Limit{RequestsPerWindow: 0, Window: time.Minute}.Disabled())
	assert.True(t, Limit{RequestsPerWindow: 3}.Disabled())
	assert.False(t, Limit{RequestsPerWindow: 3, Window: time.Minute}.Disabled())
}
