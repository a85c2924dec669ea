package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// RawVerifier validates the simpler provider scheme: a single header carrying
// hex-encoded HMAC-SHA256 over the body alone, with no id or timestamp
// composition and therefore no replay window.
type RawVerifier struct {
	secret []byte
	cfg    *config
}

// NewRawVerifier builds a body-only verifier for the given shared secret.
// An empty secret is a configuration error unless WithAllowUnsigned is set.
func NewRawVerifier(secret string, opts ...Option) (*RawVerifier, error) {
	cfg := defaultVerifierConfig()
	cfg.signatureHeader = "x-provider-signature"
	for _, opt := range opts {
		opt(cfg)
	}

	if secret == "" && !cfg.allowUnsigned {
		return nil, ErrMissingSecret
	}

	v := &RawVerifier{cfg: cfg}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v, nil
}

// Verify checks the signature header against the raw body.
func (v *RawVerifier) Verify(body []byte, header http.Header) error {
	if len(v.secret) == 0 {
		v.cfg.log.Warn("webhook secret not configured, accepting unsigned delivery")
		return nil
	}

	signature := header.Get(v.cfg.signatureHeader)
	if signature == "" {
		return ErrMissingHeaders
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// RawSignature computes the header value for the given body.
// Used by tests and by anything that needs to emit deliveries in this format.
func RawSignature(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
