package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ProviderClient talks to the billing provider's REST API for
// provider-mediated management actions. Responses are passed through raw so
// the management API can surface provider details without re-modeling them.
type ProviderClient interface {
	GetSubscription(ctx context.Context, subID string) (json.RawMessage, error)
	ChangePlan(ctx context.Context, subID, productID string) (json.RawMessage, error)
	CancelAtPeriodEnd(ctx context.Context, subID string) (json.RawMessage, error)
}

// ProviderError carries a non-2xx provider response. The management API
// forwards the status and body to the caller.
type ProviderError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider API returned %d", e.StatusCode)
}

// APIConfig configures the provider REST client.
type APIConfig struct {
	BaseURL string        `env:"PROVIDER_API_BASE_URL" envDefault:"https://live.dodopayments.com"`
	APIKey  string        `env:"PROVIDER_API_KEY"`
	Timeout time.Duration `env:"PROVIDER_API_TIMEOUT" envDefault:"10s"`
}

// APIClient implements ProviderClient over the provider's REST API.
type APIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewAPIClient(cfg APIConfig) (*APIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingProviderAPIKey
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *APIClient) GetSubscription(ctx context.Context, subID string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(subID), nil)
}

func (c *APIClient) ChangePlan(ctx context.Context, subID, productID string) (json.RawMessage, error) {
	body := map[string]any{
		"product_id":         productID,
		"quantity":           1,
		"on_payment_failure": "prevent_change",
	}
	return c.do(ctx, http.MethodPost, "/subscriptions/"+url.PathEscape(subID)+"/change-plan", body)
}

func (c *APIClient) CancelAtPeriodEnd(ctx context.Context, subID string) (json.RawMessage, error) {
	body := map[string]any{"cancel_at_next_billing_date": true}
	return c.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(subID), body)
}

func (c *APIClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: raw}
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return raw, nil
}
