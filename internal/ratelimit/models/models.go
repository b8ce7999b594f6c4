package models

import (
	"time"

	dErrors "optin/pkg/domain-errors"
)

// Scope partitions the counter space. The same identifier string in two
// scopes never shares a counter.
type Scope string

const (
	ScopeIP    Scope = "ip"
	ScopeEmail Scope = "email"
)

// ParseScope constructs a Scope from external input.
func ParseScope(s string) (Scope, error) {
	sc := Scope(s)
	if !sc.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid rate limit scope: must be 'ip' or 'email'")
	}
	return sc, nil
}

// IsValid checks if the scope is one of the supported values.
func (s Scope) IsValid() bool {
	return s == ScopeIP || s == ScopeEmail
}

func (s Scope) String() string { return string(s) }

// Limit is the configured allowance for one scope. RequestsPerWindow <= 0
// disables limiting for the scope.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Disabled reports whether the limit never denies.
func (l Limit) Disabled() bool {
	return l.RequestsPerWindow <= 0 || l.Window <= 0
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
	// Degraded is set when the result came from the in-process fallback.
	Degraded bool `json:"degraded,omitempty"`
}

// NewResult derives a result from the post-increment count of a fixed window.
// The call that pushes count to limit+1 is the first one denied.
func NewResult(count, limit int, windowStart time.Time, window time.Duration, now time.Time) *RateLimitResult {
	resetAt := windowStart.Add(window)
	res := &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = max(int(resetAt.Sub(now).Round(time.Second).Seconds()), 1)
	}
	return res
}

// Unlimited is the result for disabled limits.
func Unlimited(now time.Time) *RateLimitResult {
	return &RateLimitResult{Allowed: true, ResetAt: now}
}
