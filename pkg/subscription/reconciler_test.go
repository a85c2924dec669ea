package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuforge/billing/pkg/dedup"
	"github.com/docuforge/billing/pkg/subscription"
)

type reconcilerFixture struct {
	store      *subscription.MemoryStore
	profiles   *subscription.MemoryProfileStore
	events     *subscription.MemoryEventLog
	reconciler *subscription.Reconciler
}

func newReconcilerFixture(t *testing.T, opts ...subscription.ReconcilerOption) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:    subscription.NewMemoryStore(),
		profiles: subscription.NewMemoryProfileStore(),
		events:   subscription.NewMemoryEventLog(),
	}
	opts = append([]subscription.ReconcilerOption{subscription.WithEventLog(f.events)}, opts...)
	f.reconciler = subscription.NewReconciler(f.store, f.profiles, subscription.DefaultCatalog(), opts...)
	return f
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestReconciler_TrialActivation(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	trialEnd := time.Now().Add(7 * 24 * time.Hour)

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		ID:             "msg_1",
		Type:           "subscription.active",
		Class:          subscription.ClassLifecycle,
		SubscriptionID: "sub_trial",
		CustomerID:     "cus_1",
		UserID:         userID.String(),
		Plan:           "pro",
		ProviderStatus: "trialing",
		TrialEnd:       &trialEnd,
		PeriodEnd:      &trialEnd,
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierPro, rec.ActivePlan)
	assert.Equal(t, subscription.TierPro, rec.SelectedPlan)
	assert.Equal(t, subscription.StatusTrialing, rec.Status)
	assert.Equal(t, "sub_trial", rec.ProviderSubID)
	require.NotNil(t, rec.TrialStart, "trial start defaults to now when the payload omits it")
	assert.Equal(t, subscription.TierPro, f.profiles.Plan(userID))
	assert.Len(t, f.events.Entries(), 1)
}

func TestReconciler_ActiveLifecycle(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	ev := &subscription.Event{
		Provider:       "dodo",
		ID:             "msg_2",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_active",
		UserID:         userID.String(),
		Plan:           "ultra",
		ProviderStatus: "active",
		PeriodEnd:      &periodEnd,
	}
	require.NoError(t, f.reconciler.Apply(ctx, ev))

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierUltra, rec.ActivePlan)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	assert.Nil(t, rec.TrialStart)

	// Replaying the same event converges on the same state.
	require.NoError(t, f.reconciler.Apply(ctx, ev))
	again, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, rec.ActivePlan, again.ActivePlan)
	assert.Equal(t, rec.Status, again.Status)
	assert.Equal(t, rec.ProviderSubID, again.ProviderSubID)
}

func TestReconciler_CancelDuringTrialKeepsPlan(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	trialEnd := time.Now().Add(5 * 24 * time.Hour)

	require.NoError(t, f.store.Apply(ctx, subscription.Update{
		UserID:        userID,
		Plan:          subscription.TierPro,
		Status:        subscription.StatusTrialing,
		ProviderSubID: "sub_grace",
		TrialEnd:      &trialEnd,
	}))

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassCanceled,
		Type:           "subscription.cancelled",
		SubscriptionID: "sub_grace",
		CanceledAt:     ptrTime(time.Now()),
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, rec.Status)
	assert.Equal(t, subscription.TierPro, rec.ActivePlan, "trial time already paid for stays usable")
	assert.NotNil(t, rec.CanceledAt)
}

func TestReconciler_CancelOutsideTrialClearsPlan(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, f.store.Apply(ctx, subscription.Update{
		UserID:        userID,
		Plan:          subscription.TierUltra,
		Status:        subscription.StatusActive,
		ProviderSubID: "sub_paid",
	}))

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassCanceled,
		Type:           "subscription.cancelled",
		SubscriptionID: "sub_paid",
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, rec.Status)
	assert.Equal(t, subscription.TierNone, rec.ActivePlan)
	assert.NotNil(t, rec.CanceledAt, "cancellation timestamp defaults to now when the payload omits it")
}

func TestReconciler_OnHoldSuspendsEntitlement(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, f.store.Apply(ctx, subscription.Update{
		UserID:        userID,
		Plan:          subscription.TierPro,
		Status:        subscription.StatusActive,
		ProviderSubID: "sub_hold",
	}))

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassOnHold,
		Type:           "subscription.on_hold",
		SubscriptionID: "sub_hold",
		UserID:         userID.String(),
		Plan:           "pro",
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusOnHold, rec.Status)
	assert.Equal(t, subscription.TierNone, rec.ActivePlan)
	assert.Equal(t, subscription.TierPro, rec.SelectedPlan, "the chosen plan survives the hold for recovery")
	assert.Nil(t, rec.CanceledAt, "a hold is recoverable and must not stamp a cancellation time")
}

func TestReconciler_OnHoldDuringTrialKeepsEntitlement(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	trialEnd := time.Now().Add(5 * 24 * time.Hour)

	require.NoError(t, f.store.Apply(ctx, subscription.Update{
		UserID:        userID,
		Plan:          subscription.TierPro,
		Status:        subscription.StatusTrialing,
		ProviderSubID: "sub_trial_hold",
		TrialEnd:      &trialEnd,
	}))

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassOnHold,
		Type:           "subscription.failed",
		SubscriptionID: "sub_trial_hold",
	})
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusOnHold, rec.Status)
	assert.Equal(t, subscription.TierPro, rec.ActivePlan, "access continues until the paid trial runs out")
	assert.Nil(t, rec.CanceledAt)
}

func TestReconciler_AcknowledgesWithoutMutation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("payment events", func(t *testing.T) {
		t.Parallel()
		f := newReconcilerFixture(t)
		err := f.reconciler.Apply(ctx, &subscription.Event{
			Provider: "dodo",
			Class:    subscription.ClassPayment,
			Type:     "payment.succeeded",
			UserID:   uuid.New().String(),
		})
		require.NoError(t, err)
		assert.Empty(t, f.events.Entries())
	})

	t.Run("unknown events", func(t *testing.T) {
		t.Parallel()
		f := newReconcilerFixture(t)
		err := f.reconciler.Apply(ctx, &subscription.Event{
			Provider: "dodo",
			Class:    subscription.ClassUnknown,
			Type:     "dispute.opened",
		})
		require.NoError(t, err)
	})

	t.Run("cancellation for unknown subscription", func(t *testing.T) {
		t.Parallel()
		f := newReconcilerFixture(t)
		err := f.reconciler.Apply(ctx, &subscription.Event{
			Provider:       "polar",
			Class:          subscription.ClassCanceled,
			Type:           "subscription.revoked",
			SubscriptionID: "sub_never_seen",
		})
		assert.NoError(t, err, "retrying would never succeed, so the delivery is acknowledged")
	})
}

func TestReconciler_IdentityMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	unresolvable := &subscription.Event{
		Provider:      "dodo",
		Class:         subscription.ClassLifecycle,
		Type:          "subscription.active",
		CustomerEmail: "stranger@example.com",
	}

	t.Run("default policy acknowledges", func(t *testing.T) {
		t.Parallel()
		var hookFired bool
		f := newReconcilerFixture(t, subscription.WithIdentityMissHook(func(context.Context, *subscription.Event) {
			hookFired = true
		}))
		err := f.reconciler.Apply(ctx, unresolvable)
		require.NoError(t, err)
		assert.True(t, hookFired)
	})

	t.Run("retry policy surfaces the miss", func(t *testing.T) {
		t.Parallel()
		f := newReconcilerFixture(t, subscription.WithIdentityMissPolicy(subscription.IdentityMissRetry))
		err := f.reconciler.Apply(ctx, unresolvable)
		assert.ErrorIs(t, err, subscription.ErrIdentityNotResolved)
	})
}

func TestReconciler_Dedup(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t, subscription.WithDedup(dedup.NewMemoryStore()))
	ctx := context.Background()
	userID := uuid.New()

	ev := &subscription.Event{
		Provider:       "dodo",
		ID:             "msg_dup",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_dup",
		UserID:         userID.String(),
		Plan:           "basic",
		ProviderStatus: "active",
	}
	require.NoError(t, f.reconciler.Apply(ctx, ev))
	require.NoError(t, f.reconciler.Apply(ctx, ev))

	assert.Len(t, f.events.Entries(), 1, "the duplicate delivery is acknowledged without reprocessing")
}

// flakyStore fails a configured number of writes before delegating, mimicking
// a transient database outage.
type flakyStore struct {
	subscription.Store
	failures int
}

func (s *flakyStore) Apply(ctx context.Context, u subscription.Update) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset by peer")
	}
	return s.Store.Apply(ctx, u)
}

func TestReconciler_StoreFailureDoesNotPoisonDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := subscription.NewMemoryStore()
	store := &flakyStore{Store: mem, failures: 1}
	profiles := subscription.NewMemoryProfileStore()
	reconciler := subscription.NewReconciler(store, profiles, subscription.DefaultCatalog(),
		subscription.WithDedup(dedup.NewMemoryStore()))

	userID := uuid.New()
	ev := &subscription.Event{
		Provider:       "dodo",
		ID:             "msg_flaky",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_flaky",
		UserID:         userID.String(),
		Plan:           "pro",
		ProviderStatus: "active",
	}

	require.Error(t, reconciler.Apply(ctx, ev), "the failed write must surface so the provider retries")

	// The provider redelivers with the same ID; the retry must be processed,
	// not acknowledged as a duplicate.
	require.NoError(t, reconciler.Apply(ctx, ev))
	rec, err := mem.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, rec.Status)
	assert.Equal(t, subscription.TierPro, rec.ActivePlan)
}

func TestReconciler_IdentityMissRetryDoesNotPoisonDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newReconcilerFixture(t,
		subscription.WithDedup(dedup.NewMemoryStore()),
		subscription.WithIdentityMissPolicy(subscription.IdentityMissRetry),
	)

	ev := &subscription.Event{
		Provider:       "dodo",
		ID:             "msg_late_profile",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_late",
		CustomerEmail:  "late@example.com",
		Plan:           "pro",
		ProviderStatus: "active",
	}
	require.ErrorIs(t, f.reconciler.Apply(ctx, ev), subscription.ErrIdentityNotResolved)

	// Profile creation lagged checkout; once it lands, the redelivery
	// resolves and applies.
	userID := uuid.New()
	f.profiles.AddProfile(userID, "late@example.com")
	require.NoError(t, f.reconciler.Apply(ctx, ev))

	rec, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subscription.TierPro, rec.ActivePlan)
}

func TestReconciler_ProviderSubIDNeverReassigned(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_owned",
		UserID:         uuid.New().String(),
		Plan:           "pro",
		ProviderStatus: "active",
	}))

	err := f.reconciler.Apply(ctx, &subscription.Event{
		Provider:       "dodo",
		Class:          subscription.ClassLifecycle,
		Type:           "subscription.active",
		SubscriptionID: "sub_owned",
		UserID:         uuid.New().String(),
		Plan:           "pro",
		ProviderStatus: "active",
	})
	assert.ErrorIs(t, err, subscription.ErrProviderSubIDReassigned)
}
