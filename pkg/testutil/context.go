package testutil

import (
	"context"
	"net/http"
	"time"

	"optin/pkg/requestcontext"
)

// WithActor marks the request as coming from an authenticated admin.
// This simulates what the admin middleware does after token validation.
func WithActor(req *http.Request, actor string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actor))
}

// WithClientIP sets the client IP the metadata middleware would resolve.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, ""))
}

// WithTime pins the request time.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
