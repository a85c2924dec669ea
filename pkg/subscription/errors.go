package subscription

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrProfileNotFound      = errors.New("user profile not found")
	ErrIdentityNotResolved  = errors.New("cannot resolve user for subscription event")

	ErrUnknownPlan          = errors.New("unknown subscription plan")
	ErrUnknownBillingPeriod = errors.New("unknown billing period")
	ErrMalformedPayload     = errors.New("malformed webhook payload")

	// ErrProviderSubIDReassigned guards the invariant that a provider
	// subscription ID, once stored, is never moved to a different user.
	ErrProviderSubIDReassigned = errors.New("provider subscription ID already belongs to another user")

	ErrMissingProviderAPIKey = errors.New("provider API key is required")

	// ErrProviderUnavailable is returned when a management action needs the
	// provider API but no client is configured.
	ErrProviderUnavailable = errors.New("provider-mediated management is not configured")
)
