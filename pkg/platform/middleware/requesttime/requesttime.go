// Package requesttime pins one "now" per request so expiry checks, record
// timestamps and audit lines within a request agree.
package requesttime

import (
	"net/http"
	"time"

	"optin/pkg/requestcontext"
)

// Middleware stores the request start time; read it with requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
