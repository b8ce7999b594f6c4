// Package subscribers holds the lifecycle event consumers wired at startup.
package subscribers

import (
	"context"
	"log/slog"

	"optin/internal/events"
	"optin/pkg/platform/audit"
	"optin/pkg/platform/privacy"
)

// AuditLog writes one structured audit line per lifecycle event.
type AuditLog struct {
	logger *slog.Logger
}

func NewAuditLog(logger *slog.Logger) *AuditLog {
	return &AuditLog{logger: logger}
}

func (a *AuditLog) Handle(ctx context.Context, event events.Event) error {
	attrs := []any{"occurred_at", event.OccurredAt()}

	switch e := event.(type) {
	case events.Created:
		attrs = append(attrs, "record_id", e.RecordID, "form_ref", e.FormRef, "email", privacy.MaskEmail(e.Email))
	case events.Confirmed:
		attrs = append(attrs, "record_id", e.RecordID, "email", privacy.MaskEmail(e.Email), "ip", privacy.AnonymizeIP(e.IP))
	case events.OptedOut:
		attrs = append(attrs, "record_id", e.RecordID)
	case events.Deleted:
		attrs = append(attrs, "reason", e.Reason, "actor", e.Actor)
	case events.Expired:
		attrs = append(attrs, "class", e.Class, "rows_deleted", e.RowsDeleted, "cutoff", e.Cutoff, "forced", e.Forced)
	}

	audit.Log(ctx, a.logger, string(event.Kind()), attrs...)
	return nil
}
