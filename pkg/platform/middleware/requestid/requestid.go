// Package requestid assigns a correlation ID to every request.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"optin/pkg/requestcontext"
)

const Header = "X-Request-ID"

// maxInboundLength bounds caller-supplied IDs before they reach logs.
const maxInboundLength = 128

// Middleware reuses a caller's X-Request-ID when present and short enough,
// otherwise generates a UUID. The ID is echoed on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > maxInboundLength {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
