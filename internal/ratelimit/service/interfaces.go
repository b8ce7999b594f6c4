package service

import (
	"context"
	"time"

	"optin/internal/ratelimit/models"
)

// WindowStore keeps fixed-window counters. Keys are built by models.Key;
// validation happens before the store is reached.
type WindowStore interface {
	// Allow counts one call against key and reports whether it fits the limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error
}
