package webhook_test

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/billing/pkg/webhook"
)

func standardHeaders(secret, id string, ts time.Time, body []byte) http.Header {
	h := http.Header{}
	h.Set("webhook-id", id)
	h.Set("webhook-timestamp", strconv.FormatInt(ts.Unix(), 10))
	h.Set("webhook-signature", webhook.StandardSignature(secret, id, ts, body))
	return h
}

func TestStandardVerifier_Verify(t *testing.T) {
	t.Parallel()

	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-secret-key-32-bytes-long!!!"))
	body := []byte(`{"type":"subscription.active"}`)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	newVerifier := func(t *testing.T, opts ...webhook.Option) *webhook.StandardVerifier {
		t.Helper()
		v, err := webhook.NewStandardVerifier(secret, append(opts, webhook.WithClock(clock))...)
		require.NoError(t, err)
		return v
	}

	t.Run("accepts valid signature", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		err := v.Verify(body, standardHeaders(secret, "msg_1", now, body))
		assert.NoError(t, err)
	})

	t.Run("rejects tampered body", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		headers := standardHeaders(secret, "msg_1", now, body)
		tampered := append([]byte(nil), body...)
		tampered[0] ^= 0x01
		err := v.Verify(tampered, headers)
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		other := "whsec_" + base64.StdEncoding.EncodeToString([]byte("another-secret-key-entirely-!!!!"))
		err := v.Verify(body, standardHeaders(other, "msg_1", now, body))
		assert.ErrorIs(t, err, webhook.ErrSignatureMismatch)
	})

	t.Run("rejects missing headers", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		err := v.Verify(body, http.Header{})
		assert.ErrorIs(t, err, webhook.ErrMissingHeaders)
	})

	t.Run("rejects non-numeric timestamp", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		headers := standardHeaders(secret, "msg_1", now, body)
		headers.Set("webhook-timestamp", "not-a-number")
		err := v.Verify(body, headers)
		assert.ErrorIs(t, err, webhook.ErrInvalidTimestamp)
	})

	t.Run("accepts timestamp just inside tolerance", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		ts := now.Add(-299 * time.Second)
		err := v.Verify(body, standardHeaders(secret, "msg_1", ts, body))
		assert.NoError(t, err)
	})

	t.Run("rejects timestamp outside tolerance", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		ts := now.Add(-301 * time.Second)
		err := v.Verify(body, standardHeaders(secret, "msg_1", ts, body))
		assert.ErrorIs(t, err, webhook.ErrTimestampOutOfRange)
	})

	t.Run("rejects future timestamp outside tolerance", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		ts := now.Add(301 * time.Second)
		err := v.Verify(body, standardHeaders(secret, "msg_1", ts, body))
		assert.ErrorIs(t, err, webhook.ErrTimestampOutOfRange)
	})

	t.Run("accepts any matching signature during rotation", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t)
		headers := standardHeaders(secret, "msg_1", now, body)
		valid := headers.Get("webhook-signature")
		headers.Set("webhook-signature", "v1,Zm9vYmFy "+valid+" v2,aWdub3Jl")
		err := v.Verify(body, headers)
		assert.NoError(t, err)
	})

	t.Run("requires secret by default", func(t *testing.T) {
		t.Parallel()
		_, err := webhook.NewStandardVerifier("")
		assert.ErrorIs(t, err, webhook.ErrMissingSecret)
	})

	t.Run("allows unsigned when explicitly enabled", func(t *testing.T) {
		t.Parallel()
		v, err := webhook.NewStandardVerifier("", webhook.WithAllowUnsigned())
		require.NoError(t, err)
		assert.NoError(t, v.Verify(body, http.Header{}))
	})
}

func TestStandardVerifier_RawSecret(t *testing.T) {
	t.Parallel()

	// Secrets without the whsec_ prefix and without base64 encoding are
	// used as raw bytes.
	secret := "plain-text-secret"
	body := []byte(`{}`)
	now := time.Now()

	v, err := webhook.NewStandardVerifier(secret, webhook.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	err = v.Verify(body, standardHeaders(secret, "msg_2", now, body))
	assert.NoError(t, err)
}
