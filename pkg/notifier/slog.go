package notifier

import (
	"context"
	"log/slog"
)

// SlogNotifier writes notifications to the log. Default sink when no email
// provider is configured.
type SlogNotifier struct {
	log *slog.Logger
}

func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SlogNotifier{log: log}
}

func (n *SlogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.InfoContext(ctx, "billing notification",
		slog.String("user_id", msg.UserID.String()),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}
