// Package webhook implements HMAC-based webhook signature verification for
// the two provider signing schemes the service accepts: the Standard Webhooks
// scheme (id + timestamp + body, base64, versioned signature pairs) and a raw
// scheme that signs only the body with a single hex-encoded header value.
package webhook

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verifier authenticates a raw webhook body against the delivery headers.
// Implementations must not consume or mutate the body.
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// DefaultTolerance is the replay window for timestamped signatures.
// Deliveries whose timestamp skew exceeds this are rejected.
const DefaultTolerance = 5 * time.Minute

type config struct {
	allowUnsigned bool
	tolerance     time.Duration
	now           func() time.Time
	log           *slog.Logger

	idHeader        string
	timestampHeader string
	signatureHeader string
}

// Option configures a verifier.
type Option func(*config)

// WithAllowUnsigned accepts deliveries without verification when no secret is
// configured. This is an explicit operability escape hatch for environments
// without secrets; every accepted unsigned delivery is logged at warn level.
func WithAllowUnsigned() Option {
	return func(c *config) { c.allowUnsigned = true }
}

// WithTolerance overrides the replay window.
func WithTolerance(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.tolerance = d
		}
	}
}

// WithHeaderNames overrides the delivery header names. Empty names keep the
// current value, so either header can be renamed independently.
func WithHeaderNames(id, timestamp, signature string) Option {
	return func(c *config) {
		if id != "" {
			c.idHeader = id
		}
		if timestamp != "" {
			c.timestampHeader = timestamp
		}
		if signature != "" {
			c.signatureHeader = signature
		}
	}
}

// WithSignatureHeader overrides only the signature header name.
func WithSignatureHeader(name string) Option {
	return func(c *config) {
		if name != "" {
			c.signatureHeader = name
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger supplies the logger used for unsigned-mode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

func defaultVerifierConfig() *config {
	return &config{
		tolerance:       DefaultTolerance,
		now:             time.Now,
		log:             slog.Default(),
		idHeader:        "webhook-id",
		timestampHeader: "webhook-timestamp",
		signatureHeader: "webhook-signature",
	}
}

// decodeSecret normalizes a shared webhook secret. Secrets issued with a
// "whsec_" prefix carry base64-encoded key material; anything that does not
// decode is used as raw UTF-8 bytes.
func decodeSecret(secret string) []byte {
	raw := strings.TrimPrefix(secret, "whsec_")
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	return []byte(raw)
}
