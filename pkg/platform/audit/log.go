// Package audit writes audit lines to the structured log.
package audit

import (
	"context"
	"log/slog"

	"optin/pkg/requestcontext"
)

// Log writes an audit line tagged with log_type=audit and the request ID
// from ctx when present. A nil logger is a no-op.
func Log(ctx context.Context, logger *slog.Logger, event string, attrList ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	args := append(attrList, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, args...)
}
