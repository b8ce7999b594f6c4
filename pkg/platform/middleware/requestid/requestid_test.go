package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optin/pkg/requestcontext"
)

func serve(t *testing.T, inbound string) (ctxID, headerID string) {
	t.Helper()
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = requestcontext.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if inbound != "" {
		req.Header.Set(Header, inbound)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return ctxID, rr.Header().Get(Header)
}

func TestMiddleware(t *testing.T) {
	t.Run("generates a uuid", func(t *testing.T) {
		ctxID, headerID := serve(t, "")
		_, err := uuid.Parse(ctxID)
		require.NoError(t, err)
		assert.Equal(t, ctxID, headerID)
	})

	t.Run("reuses inbound id", func(t *testing.T) {
		ctxID, headerID := serve(t, "upstream-123")
		assert.Equal(t, "upstream-123", ctxID)
		assert.Equal(t, "upstream-123", headerID)
	})

	t.Run("replaces oversized inbound id", func(t *testing.T) {
		ctxID, _ := serve(t, strings.Repeat("x", 500))
		_, err := uuid.Parse(ctxID)
		assert.NoError(t, err)
	})
}
