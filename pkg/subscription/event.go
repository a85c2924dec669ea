package subscription

import "time"

// EventClass is the normalized category a provider event maps to. Each
// provider adapter translates its own event names into one of these classes;
// the reconciler only ever dispatches on the class.
type EventClass string

const (
	// ClassLifecycle covers creation, activation and update events that
	// upsert the full record.
	ClassLifecycle EventClass = "lifecycle"
	// ClassOnHold covers payment-on-hold and payment-failure events.
	// Distinct from cancellation: the subscription is recoverable.
	ClassOnHold EventClass = "on_hold"
	// ClassCanceled covers cancellation and revocation events.
	ClassCanceled EventClass = "canceled"
	// ClassPayment covers one-time payment events; logged only, no plan
	// grants.
	ClassPayment EventClass = "payment"
	// ClassUnknown covers event types this engine does not recognize.
	// Acknowledged without mutation so new provider event types never
	// cause retry storms.
	ClassUnknown EventClass = "unknown"
)

// Event is a provider-neutral webhook event. Adapters populate whatever
// fields the provider payload carries; absent fields stay zero.
type Event struct {
	Provider string
	ID       string // provider's delivery/event ID, used for dedup when present
	Type     string // raw provider event type
	Class    EventClass

	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	UserID         string // internal user ID from checkout metadata
	Plan           string // plan name from checkout metadata
	ProductID      string
	ProductName    string
	ProviderStatus string

	PeriodStart *time.Time
	PeriodEnd   *time.Time
	TrialStart  *time.Time
	TrialEnd    *time.Time
	CanceledAt  *time.Time

	OccurredAt time.Time
}
