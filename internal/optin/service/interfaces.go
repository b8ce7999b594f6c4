package service

import (
	"context"
	"time"

	"optin/internal/optin/models"
	rlmodels "optin/internal/ratelimit/models"
)

// Store is the TokenStore contract. Absence is reported as
// sentinel.ErrNotFound by Get and as false by the conditional writes.
type Store interface {
	Get(ctx context.Context, token string) (*models.OptInRecord, error)
	// Put inserts when expected is nil (refusing live and retired tokens) and
	// otherwise writes only if the stored status equals *expected.
	Put(ctx context.Context, rec *models.OptInRecord, expected *models.Status) (bool, error)
	DeleteByToken(ctx context.Context, token string) (bool, error)
	FindByEmail(ctx context.Context, email string, status *models.Status) ([]*models.OptInRecord, error)
	Count(ctx context.Context, status models.Status) (int, error)
}

// RateLimiter counts one submission against (scope, identifier).
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, scope rlmodels.Scope, identifier string) (bool, error)
}

// TokenGenerator issues bearer tokens.
type TokenGenerator func() (string, error)

// Clock returns the current time; requestcontext.Now is the default.
type Clock func(ctx context.Context) time.Time
