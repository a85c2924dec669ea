package subscription_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/billing/pkg/subscription"
)

type fakeProviderClient struct {
	getResponse    json.RawMessage
	getErr         error
	changeErr      error
	cancelErr      error
	changeCalls    []string // productID per call
	cancelCalls    []string // subID per call
	getCalls       []string
	changeResponse json.RawMessage
}

func (c *fakeProviderClient) GetSubscription(_ context.Context, subID string) (json.RawMessage, error) {
	c.getCalls = append(c.getCalls, subID)
	if c.getErr != nil {
		return nil, c.getErr
	}
	if c.getResponse == nil {
		return json.RawMessage(`{}`), nil
	}
	return c.getResponse, nil
}

func (c *fakeProviderClient) ChangePlan(_ context.Context, subID, productID string) (json.RawMessage, error) {
	c.changeCalls = append(c.changeCalls, productID)
	if c.changeErr != nil {
		return nil, c.changeErr
	}
	if c.changeResponse == nil {
		return json.RawMessage(`{"status":"pending"}`), nil
	}
	return c.changeResponse, nil
}

func (c *fakeProviderClient) CancelAtPeriodEnd(_ context.Context, subID string) (json.RawMessage, error) {
	c.cancelCalls = append(c.cancelCalls, subID)
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	return json.RawMessage(`{"cancel_at_next_billing_date":true}`), nil
}

type managerFixture struct {
	store    *subscription.MemoryStore
	profiles *subscription.MemoryProfileStore
	client   *fakeProviderClient
	manager  *subscription.Manager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    subscription.NewMemoryStore(),
		profiles: subscription.NewMemoryProfileStore(),
		client:   &fakeProviderClient{},
	}
	f.manager = subscription.NewManager(f.store, f.profiles, subscription.DefaultCatalog(), f.client)
	return f
}

func TestManager_GetDetails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no record yet", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()

		details, err := f.manager.GetDetails(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, details.Record.UserID)
		assert.Equal(t, subscription.StatusNone, details.Record.Status)
		assert.Nil(t, details.Provider)
	})

	t.Run("provider-backed record includes live view", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()
		f.client.getResponse = json.RawMessage(`{"status":"active","next_billing_date":"2025-07-01"}`)

		require.NoError(t, f.store.Apply(ctx, subscription.Update{
			UserID:        userID,
			Plan:          subscription.TierPro,
			Status:        subscription.StatusActive,
			ProviderSubID: "sub_live",
		}))

		details, err := f.manager.GetDetails(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, details.Record.ActivePlan)
		assert.JSONEq(t, string(f.client.getResponse), string(details.Provider))
		assert.Equal(t, []string{"sub_live"}, f.client.getCalls)
	})

	t.Run("provider fetch failure degrades to local record", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()
		f.client.getErr = &subscription.ProviderError{StatusCode: 502}

		require.NoError(t, f.store.Apply(ctx, subscription.Update{
			UserID:        userID,
			Plan:          subscription.TierPro,
			Status:        subscription.StatusActive,
			ProviderSubID: "sub_flaky",
		}))

		details, err := f.manager.GetDetails(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, details.Record.ActivePlan)
		assert.Nil(t, details.Provider)
	})
}

func TestManager_ChangePlan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("direct when no provider subscription", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()

		result, err := f.manager.ChangePlan(ctx, userID, subscription.TierPro, subscription.PeriodMonthly)
		require.NoError(t, err)
		assert.Equal(t, "direct", result.Method)
		assert.Empty(t, f.client.changeCalls)

		rec, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, rec.ActivePlan)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, subscription.TierPro, f.profiles.Plan(userID))
	})

	t.Run("provider-mediated leaves local state untouched", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()

		require.NoError(t, f.store.Apply(ctx, subscription.Update{
			UserID:        userID,
			Plan:          subscription.TierBasic,
			Status:        subscription.StatusActive,
			ProviderSubID: "sub_managed",
		}))

		result, err := f.manager.ChangePlan(ctx, userID, subscription.TierUltra, subscription.PeriodYearly)
		require.NoError(t, err)
		assert.Equal(t, "provider", result.Method)
		assert.NotNil(t, result.Provider)
		assert.Equal(t, []string{"pdt_ultra_yearly"}, f.client.changeCalls)

		// The local record only moves when the provider's webhook confirms.
		rec, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierBasic, rec.ActivePlan)
		assert.Equal(t, subscription.StatusActive, rec.Status)
	})

	t.Run("unknown plan rejected before any side effect", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)

		_, err := f.manager.ChangePlan(ctx, uuid.New(), subscription.TierNone, subscription.PeriodMonthly)
		assert.ErrorIs(t, err, subscription.ErrUnknownPlan)
		assert.Empty(t, f.client.changeCalls)
	})

	t.Run("provider error propagates", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()
		f.client.changeErr = &subscription.ProviderError{StatusCode: 422, Body: json.RawMessage(`{"code":"invalid_product"}`)}

		require.NoError(t, f.store.Apply(ctx, subscription.Update{
			UserID:        userID,
			Plan:          subscription.TierBasic,
			Status:        subscription.StatusActive,
			ProviderSubID: "sub_err",
		}))

		_, err := f.manager.ChangePlan(ctx, userID, subscription.TierPro, subscription.PeriodMonthly)
		var provErr *subscription.ProviderError
		require.ErrorAs(t, err, &provErr)
		assert.Equal(t, 422, provErr.StatusCode)
	})
}

func TestManager_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("no record", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		_, err := f.manager.Cancel(ctx, uuid.New())
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("direct cancel clears entitlement immediately", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()

		require.NoError(t, f.store.SetPlan(ctx, userID, subscription.TierPro))

		result, err := f.manager.Cancel(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "direct", result.Method)

		rec, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierNone, rec.ActivePlan)
		assert.Equal(t, subscription.StatusCanceled, rec.Status)
		assert.NotNil(t, rec.CanceledAt)
		assert.Equal(t, subscription.TierBasic, f.profiles.Plan(userID))
	})

	t.Run("provider cancel only records the request", func(t *testing.T) {
		t.Parallel()
		f := newManagerFixture(t)
		userID := uuid.New()

		require.NoError(t, f.store.Apply(ctx, subscription.Update{
			UserID:        userID,
			Plan:          subscription.TierUltra,
			Status:        subscription.StatusActive,
			ProviderSubID: "sub_sched",
		}))

		result, err := f.manager.Cancel(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "provider", result.Method)
		assert.Equal(t, []string{"sub_sched"}, f.client.cancelCalls)

		// Entitlement survives until the provider's webhook lands.
		rec, err := f.store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, subscription.TierUltra, rec.ActivePlan)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.NotNil(t, rec.CanceledAt)
	})
}

func TestManager_NoProviderClient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := subscription.NewMemoryStore()
	profiles := subscription.NewMemoryProfileStore()
	manager := subscription.NewManager(store, profiles, subscription.DefaultCatalog(), nil)
	userID := uuid.New()

	require.NoError(t, store.Apply(ctx, subscription.Update{
		UserID:        userID,
		Plan:          subscription.TierPro,
		Status:        subscription.StatusActive,
		ProviderSubID: "sub_noclient",
	}))

	t.Run("provider-backed change-plan fails cleanly", func(t *testing.T) {
		t.Parallel()
		_, err := manager.ChangePlan(ctx, userID, subscription.TierUltra, subscription.PeriodMonthly)
		assert.ErrorIs(t, err, subscription.ErrProviderUnavailable)
	})

	t.Run("provider-backed cancel fails cleanly", func(t *testing.T) {
		t.Parallel()
		_, err := manager.Cancel(ctx, userID)
		assert.ErrorIs(t, err, subscription.ErrProviderUnavailable)
	})

	t.Run("direct records still work", func(t *testing.T) {
		t.Parallel()
		directUser := uuid.New()
		result, err := manager.ChangePlan(ctx, directUser, subscription.TierBasic, subscription.PeriodMonthly)
		require.NoError(t, err)
		assert.Equal(t, "direct", result.Method)
	})
}

func TestManager_AssignPlan(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, f.manager.AssignPlan(ctx, userID, subscription.TierUltra))

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierUltra, rec.ActivePlan)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	require.NotNil(t, rec.PeriodEnd)
	assert.True(t, rec.PeriodEnd.After(time.Now().AddDate(99, 0, 0)), "administrative grants never lapse on their own")

	assert.ErrorIs(t, f.manager.AssignPlan(ctx, userID, subscription.TierNone), subscription.ErrUnknownPlan)
}
