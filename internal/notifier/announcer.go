package notifier

import (
	"context"

	"github.com/lokalert/apkdist/internal/audit"
	"github.com/lokalert/apkdist/internal/logctx"
)

// CompletionAnnouncer is an audit.Sink decorator that announces credited
// downloads on a notification channel. The notification shares the audit
// trail's best-effort guarantee: a failed webhook never fails the append.
type CompletionAnnouncer struct {
	next audit.Sink
	n    Notifier
}

func NewCompletionAnnouncer(next audit.Sink, n Notifier) *CompletionAnnouncer {
	return &CompletionAnnouncer{next: next, n: n}
}

func (a *CompletionAnnouncer) Append(ctx context.Context, rec audit.Record) error {
	err := a.next.Append(ctx, rec)

	if a.n != nil && rec.Action == audit.ActionComplete {
		// A failed announcement never fails the append; the record is the
		// durable part, the webhook is a courtesy.
		if notifyErr := a.n.Notify("📦 Download completed by " + rec.Actor + " (" + rec.Detail + ")"); notifyErr != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to announce completion", "err", notifyErr)
		}
	}

	return err
}
