package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docuforge/billing/pkg/webhook"
)

// DodoAdapter handles Dodo Payments webhooks. Dodo signs deliveries with the
// Standard Webhooks scheme: webhook-id, webhook-timestamp and
// webhook-signature headers over "{id}.{timestamp}.{body}".
type DodoAdapter struct {
	verifier webhook.Verifier
}

// NewDodoAdapter wraps the given verifier. Use webhook.NewStandardVerifier
// with the Dodo webhook secret.
func NewDodoAdapter(verifier webhook.Verifier) *DodoAdapter {
	if verifier == nil {
		panic("subscription: verifier is required")
	}
	return &DodoAdapter{verifier: verifier}
}

func (a *DodoAdapter) Name() string { return "dodo" }

func (a *DodoAdapter) Verify(body []byte, header http.Header) error {
	return a.verifier.Verify(body, header)
}

type dodoEnvelope struct {
	Type      string     `json:"type"`
	Timestamp *time.Time `json:"timestamp"`
	Data      struct {
		SubscriptionID string `json:"subscription_id"`
		PaymentID      string `json:"payment_id"`
		Status         string `json:"status"`
		Customer       struct {
			CustomerID string `json:"customer_id"`
			Email      string `json:"email"`
		} `json:"customer"`
		ProductID string `json:"product_id"`
		Product   struct {
			Name string `json:"name"`
		} `json:"product"`
		Metadata           map[string]string `json:"metadata"`
		CurrentPeriodStart *time.Time        `json:"current_period_start"`
		CurrentPeriodEnd   *time.Time        `json:"current_period_end"`
		TrialStart         *time.Time        `json:"trial_start"`
		TrialEnd           *time.Time        `json:"trial_end"`
		CanceledAt         *time.Time        `json:"canceled_at"`
	} `json:"data"`
}

// ParseEvent decodes a Dodo envelope. The delivery ID comes from the
// webhook-id header, which doubles as the dedup key.
func (a *DodoAdapter) ParseEvent(body []byte, header http.Header) (*Event, error) {
	var env dodoEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	ev := &Event{
		Provider:       a.Name(),
		ID:             header.Get("webhook-id"),
		Type:           env.Type,
		Class:          mapDodoEventType(env.Type),
		SubscriptionID: env.Data.SubscriptionID,
		CustomerID:     env.Data.Customer.CustomerID,
		CustomerEmail:  env.Data.Customer.Email,
		UserID:         env.Data.Metadata["user_id"],
		Plan:           env.Data.Metadata["plan"],
		ProductID:      env.Data.ProductID,
		ProductName:    env.Data.Product.Name,
		ProviderStatus: env.Data.Status,
		PeriodStart:    env.Data.CurrentPeriodStart,
		PeriodEnd:      env.Data.CurrentPeriodEnd,
		TrialStart:     env.Data.TrialStart,
		TrialEnd:       env.Data.TrialEnd,
		CanceledAt:     env.Data.CanceledAt,
	}
	if env.Timestamp != nil {
		ev.OccurredAt = *env.Timestamp
	}

	// Dodo trial subscriptions sometimes carry only one of trial_end /
	// current_period_end; mirror them so downstream grace checks work.
	if ev.TrialEnd == nil {
		ev.TrialEnd = ev.PeriodEnd
	}
	if ev.PeriodEnd == nil {
		ev.PeriodEnd = ev.TrialEnd
	}

	return ev, nil
}

func mapDodoEventType(t string) EventClass {
	switch t {
	case "subscription.active", "subscription.created", "subscription.updated", "subscription.renewed":
		return ClassLifecycle
	case "subscription.on_hold", "subscription.failed":
		return ClassOnHold
	case "subscription.cancelled", "subscription.canceled":
		return ClassCanceled
	case "payment.succeeded":
		return ClassPayment
	default:
		return ClassUnknown
	}
}
