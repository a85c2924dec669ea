package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/docuforge/billing/pkg/webhook"
)

// PolarSignatureHeader carries Polar's hex HMAC over the raw body.
const PolarSignatureHeader = "x-polar-signature"

// PolarAdapter handles Polar webhooks. Polar signs only the body with a
// single hex-encoded signature header, so its deliveries carry no event ID
// and no replay window.
type PolarAdapter struct {
	verifier webhook.Verifier
}

// NewPolarAdapter wraps the given verifier. Use webhook.NewRawVerifier with
// the Polar webhook secret and PolarSignatureHeader.
func NewPolarAdapter(verifier webhook.Verifier) *PolarAdapter {
	if verifier == nil {
		panic("subscription: verifier is required")
	}
	return &PolarAdapter{verifier: verifier}
}

func (a *PolarAdapter) Name() string { return "polar" }

func (a *PolarAdapter) Verify(body []byte, header http.Header) error {
	return a.verifier.Verify(body, header)
}

type polarParty struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type polarEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ID       string      `json:"id"`
		Status   string      `json:"status"`
		Customer *polarParty `json:"customer"`
		User     *polarParty `json:"user"`
		Product  *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"product"`
		CurrentPeriodStart *time.Time        `json:"current_period_start"`
		CurrentPeriodEnd   *time.Time        `json:"current_period_end"`
		CanceledAt         *time.Time        `json:"canceled_at"`
		Metadata           map[string]string `json:"metadata"`
	} `json:"data"`
}

// ParseEvent decodes a Polar envelope. Customer identity may arrive under
// either the customer or the user object depending on event age.
func (a *PolarAdapter) ParseEvent(body []byte, _ http.Header) (*Event, error) {
	var env polarEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	ev := &Event{
		Provider:       a.Name(),
		Type:           env.Type,
		Class:          mapPolarEventType(env.Type),
		SubscriptionID: env.Data.ID,
		UserID:         env.Data.Metadata["user_id"],
		Plan:           env.Data.Metadata["plan"],
		ProviderStatus: env.Data.Status,
		PeriodStart:    env.Data.CurrentPeriodStart,
		PeriodEnd:      env.Data.CurrentPeriodEnd,
		CanceledAt:     env.Data.CanceledAt,
	}

	if env.Data.Customer != nil {
		ev.CustomerID = env.Data.Customer.ID
		ev.CustomerEmail = env.Data.Customer.Email
	} else if env.Data.User != nil {
		ev.CustomerID = env.Data.User.ID
		ev.CustomerEmail = env.Data.User.Email
	}

	if env.Data.Product != nil {
		ev.ProductID = env.Data.Product.ID
		ev.ProductName = env.Data.Product.Name
	}

	return ev, nil
}

func mapPolarEventType(t string) EventClass {
	switch t {
	case "subscription.created", "subscription.updated", "subscription.active":
		return ClassLifecycle
	case "subscription.canceled", "subscription.revoked":
		return ClassCanceled
	default:
		return ClassUnknown
	}
}
