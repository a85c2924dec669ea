// Package notifier delivers user-facing billing notifications. Delivery is
// best-effort: a failed notification is logged and dropped, never surfaced to
// the webhook provider.
package notifier

import (
	"context"

	"github.com/google/uuid"
)

// Message is one notification addressed to a user.
type Message struct {
	UserID  uuid.UUID
	Email   string
	Subject string
	Body    string
}

// Notifier delivers messages. Implementations must not block on retries.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
