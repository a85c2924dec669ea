package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Update is the full state a lifecycle event writes. Apply overwrites every
// field so replayed or repeated events converge on the same record.
type Update struct {
	UserID             uuid.UUID
	Plan               Tier
	Status             Status
	ProviderCustomerID string
	ProviderSubID      string
	PeriodStart        *time.Time
	PeriodEnd          *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
}

// Cancellation carries the state change for a provider-side cancellation or
// revocation, keyed by the provider subscription ID.
type Cancellation struct {
	ProviderSubID string
	Status        Status
	CanceledAt    *time.Time
}

// Store persists subscription records. One record per user; every write is an
// upsert. A provider subscription ID, once attached to a user, must never be
// reassigned to another.
type Store interface {
	// Get returns the record for a user, or ErrSubscriptionNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*Record, error)

	// GetByProviderSubID returns the record holding the given provider
	// subscription ID, or ErrSubscriptionNotFound.
	GetByProviderSubID(ctx context.Context, providerSubID string) (*Record, error)

	// Apply upserts the full state of a lifecycle event. Both active and
	// selected plan are set to the update's plan.
	Apply(ctx context.Context, u Update) error

	// Cancel transitions the record holding the provider subscription ID.
	// A record still inside its trial window keeps its active plan;
	// otherwise the active plan is cleared. Returns
	// ErrSubscriptionNotFound when no record holds the ID.
	Cancel(ctx context.Context, c Cancellation) error

	// SetPlan activates a plan without provider involvement: upserts the
	// record with the plan active. On existing records only the plan
	// fields change; provider linkage and billing periods are untouched.
	SetPlan(ctx context.Context, userID uuid.UUID, plan Tier) error

	// DirectCancel cancels a record that has no provider subscription:
	// clears the active plan and marks the record canceled.
	DirectCancel(ctx context.Context, userID uuid.UUID, at time.Time) error

	// MarkCancelRequested records that a cancellation was requested at the
	// provider. Only canceled_at is stamped; plan and status stay until
	// the provider's webhook confirms.
	MarkCancelRequested(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// EventLog records processed webhook events for auditing.
type EventLog interface {
	Append(ctx context.Context, ev *Event, userID uuid.UUID) error
}
