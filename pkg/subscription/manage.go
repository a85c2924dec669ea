package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Details is the management API's read model: the local record plus, when a
// provider subscription exists, the provider's live view of it.
type Details struct {
	Record   *Record         `json:"subscription"`
	Provider json.RawMessage `json:"provider,omitempty"`
}

// ActionResult reports how a management action was carried out. Direct
// actions mutate local state immediately; provider actions only instruct the
// provider, whose webhook later confirms the change.
type ActionResult struct {
	Method   string          `json:"method"` // "direct" or "provider"
	Provider json.RawMessage `json:"provider,omitempty"`
}

// Manager implements the user-facing subscription management operations.
// For provider-backed records it never touches plan or status itself; the
// webhook pipeline stays the single writer and the provider's confirmation
// event lands the actual change.
type Manager struct {
	store    Store
	profiles ProfileStore
	catalog  *Catalog
	client   ProviderClient
	log      *slog.Logger
	now      func() time.Time
}

// ManagerOption customizes optional manager collaborators.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithManagerClock overrides the manager's clock. Tests only.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, profiles ProfileStore, catalog *Catalog, client ProviderClient, opts ...ManagerOption) *Manager {
	if store == nil {
		panic("subscription: store is required")
	}
	if profiles == nil {
		panic("subscription: profile store is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	m := &Manager{
		store:    store,
		profiles: profiles,
		catalog:  catalog,
		client:   client,
		log:      slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetDetails returns the user's record, enriched with the provider's live
// subscription state when one exists. Provider fetch failures degrade to the
// local record rather than failing the read.
func (m *Manager) GetDetails(ctx context.Context, userID uuid.UUID) (*Details, error) {
	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return &Details{Record: &Record{UserID: userID, Status: StatusNone}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	details := &Details{Record: rec}
	if rec.HasProviderSubscription() && m.client != nil {
		raw, err := m.client.GetSubscription(ctx, rec.ProviderSubID)
		if err != nil {
			m.log.WarnContext(ctx, "failed to fetch provider subscription",
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
		} else {
			details.Provider = raw
		}
	}
	return details, nil
}

// ChangePlan switches the user to a different plan. Records without a
// provider subscription change locally and immediately; provider-backed
// records go through the provider API and change only when its webhook
// confirms.
func (m *Manager) ChangePlan(ctx context.Context, userID uuid.UUID, plan Tier, period BillingPeriod) (*ActionResult, error) {
	productID, err := m.catalog.ProductID(plan, period)
	if err != nil {
		return nil, err
	}

	rec, err := m.store.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	if rec == nil || !rec.HasProviderSubscription() {
		if err := m.store.SetPlan(ctx, userID, plan); err != nil {
			return nil, fmt.Errorf("set plan: %w", err)
		}
		if err := m.profiles.SetPlan(ctx, userID, plan); err != nil {
			m.log.WarnContext(ctx, "failed to mirror plan to profile",
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
		}
		m.log.InfoContext(ctx, "plan changed directly",
			slog.String("user_id", userID.String()),
			slog.String("plan", string(plan)),
		)
		return &ActionResult{Method: "direct"}, nil
	}

	if m.client == nil {
		return nil, ErrProviderUnavailable
	}
	raw, err := m.client.ChangePlan(ctx, rec.ProviderSubID, productID)
	if err != nil {
		return nil, fmt.Errorf("change plan at provider: %w", err)
	}
	m.log.InfoContext(ctx, "plan change requested at provider",
		slog.String("user_id", userID.String()),
		slog.String("plan", string(plan)),
		slog.String("provider_subscription_id", rec.ProviderSubID),
	)
	return &ActionResult{Method: "provider", Provider: raw}, nil
}

// Cancel ends the user's subscription. Direct records cancel immediately;
// provider-backed records are scheduled to cancel at the next billing date,
// with only the request timestamp recorded locally until the webhook lands.
func (m *Manager) Cancel(ctx context.Context, userID uuid.UUID) (*ActionResult, error) {
	rec, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if !rec.HasProviderSubscription() {
		if err := m.store.DirectCancel(ctx, userID, now); err != nil {
			return nil, fmt.Errorf("cancel subscription: %w", err)
		}
		if err := m.profiles.SetPlan(ctx, userID, TierBasic); err != nil {
			m.log.WarnContext(ctx, "failed to mirror plan to profile",
				slog.String("user_id", userID.String()),
				slog.Any("error", err),
			)
		}
		m.log.InfoContext(ctx, "subscription canceled directly",
			slog.String("user_id", userID.String()),
		)
		return &ActionResult{Method: "direct"}, nil
	}

	if m.client == nil {
		return nil, ErrProviderUnavailable
	}
	raw, err := m.client.CancelAtPeriodEnd(ctx, rec.ProviderSubID)
	if err != nil {
		return nil, fmt.Errorf("cancel at provider: %w", err)
	}
	if err := m.store.MarkCancelRequested(ctx, userID, now); err != nil {
		m.log.WarnContext(ctx, "failed to record cancellation request",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
	m.log.InfoContext(ctx, "cancellation requested at provider",
		slog.String("user_id", userID.String()),
		slog.String("provider_subscription_id", rec.ProviderSubID),
	)
	return &ActionResult{Method: "provider", Provider: raw}, nil
}

// AssignPlan grants a plan administratively, bypassing billing. The period
// end is set far in the future so the grant never lapses on its own.
func (m *Manager) AssignPlan(ctx context.Context, userID uuid.UUID, plan Tier) error {
	if plan == TierNone {
		return ErrUnknownPlan
	}
	now := m.now()
	end := now.AddDate(100, 0, 0)
	err := m.store.Apply(ctx, Update{
		UserID:      userID,
		Plan:        plan,
		Status:      StatusActive,
		PeriodStart: &now,
		PeriodEnd:   &end,
	})
	if err != nil {
		return fmt.Errorf("assign plan: %w", err)
	}
	if err := m.profiles.SetPlan(ctx, userID, plan); err != nil {
		m.log.WarnContext(ctx, "failed to mirror plan to profile",
			slog.String("user_id", userID.String()),
			slog.Any("error", err),
		)
	}
	m.log.InfoContext(ctx, "plan assigned administratively",
		slog.String("user_id", userID.String()),
		slog.String("plan", string(plan)),
	)
	return nil
}
