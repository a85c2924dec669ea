package subscription

import "net/http"

// ProviderAdapter binds one inbound webhook path to a provider's wire format:
// signature verification, payload parsing, and event-type mapping. The two
// supported providers emit semantically equivalent but syntactically distinct
// payloads; everything past the adapter is provider-neutral.
type ProviderAdapter interface {
	// Name identifies the provider in routes, logs and dedup keys.
	Name() string

	// Verify authenticates the raw body against the delivery headers.
	Verify(body []byte, header http.Header) error

	// ParseEvent decodes the raw body into a normalized Event. The header
	// is available for providers that carry the event ID out-of-band.
	ParseEvent(body []byte, header http.Header) (*Event, error)
}
