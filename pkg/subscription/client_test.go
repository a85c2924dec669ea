package subscription_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/billing/pkg/subscription"
)

func TestAPIClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := subscription.NewAPIClient(subscription.APIConfig{})
	assert.ErrorIs(t, err, subscription.ErrMissingProviderAPIKey)
}

func TestAPIClient_ChangePlan(t *testing.T) {
	t.Parallel()

	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"status":"pending"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := subscription.NewAPIClient(subscription.APIConfig{
		BaseURL: srv.URL,
		APIKey:  "sk_test",
	})
	require.NoError(t, err)

	raw, err := client.ChangePlan(context.Background(), "sub_123", "pdt_pro_monthly")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"pending"}`, string(raw))

	assert.Equal(t, "/subscriptions/sub_123/change-plan", gotPath)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, "pdt_pro_monthly", gotBody["product_id"])
	assert.Equal(t, float64(1), gotBody["quantity"])
	assert.Equal(t, "prevent_change", gotBody["on_payment_failure"],
		"a plan change must not go through while the payment is failing")
}

func TestAPIClient_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"subscription is not active"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := subscription.NewAPIClient(subscription.APIConfig{BaseURL: srv.URL, APIKey: "sk_test"})
	require.NoError(t, err)

	_, err = client.CancelAtPeriodEnd(context.Background(), "sub_123")
	var provErr *subscription.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnprocessableEntity, provErr.StatusCode)
	assert.JSONEq(t, `{"error":"subscription is not active"}`, string(provErr.Body))
}
