package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optin/pkg/requestcontext"
)

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")

	Log(ctx, logger, "optin_confirmed", "token_prefix", "abcd")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "optin_confirmed", line["msg"])
	assert.Equal(t, "optin_confirmed", line["event"])
	assert.Equal(t, "audit", line["log_type"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "abcd", line["token_prefix"])
}

func TestLog_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		Log(context.Background(), nil, "noop")
	})
}
