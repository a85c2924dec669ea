package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuforge/billing/pkg/subscription"
)

// EventLog implements subscription.EventLog, appending one audit row per
// processed webhook event.
type EventLog struct {
	pool *pgxpool.Pool
}

func NewEventLog(pool *pgxpool.Pool) *EventLog {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &EventLog{pool: pool}
}

func (l *EventLog) Append(ctx context.Context, ev *subscription.Event, userID uuid.UUID) error {
	var occurredAt *time.Time
	if !ev.OccurredAt.IsZero() {
		occurredAt = &ev.OccurredAt
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO subscription_events (
			provider, event_id, event_type,
			user_id, provider_subscription_id, provider_status, occurred_at
		) VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)`,
		ev.Provider, ev.ID, ev.Type,
		userID, ev.SubscriptionID, ev.ProviderStatus, occurredAt,
	)
	if err != nil {
		return fmt.Errorf("append subscription event: %w", err)
	}
	return nil
}
