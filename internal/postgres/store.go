// Package postgres persists subscription state in PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuforge/billing/pkg/pg"
	"github.com/docuforge/billing/pkg/subscription"
)

// Store implements subscription.Store on a pgx pool. One row per user;
// a partial unique index on provider_subscription_id keeps a provider
// subscription attached to exactly one user.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &Store{pool: pool}
}

const recordColumns = `
	user_id, active_plan, selected_plan, subscription_status,
	provider_customer_id, provider_subscription_id,
	current_period_start, current_period_end, trial_start, trial_end,
	canceled_at, created_at, updated_at`

func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*subscription.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+recordColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	return scanRecord(row)
}

func (s *Store) GetByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Record, error) {
	if providerSubID == "" {
		return nil, subscription.ErrSubscriptionNotFound
	}
	row := s.pool.QueryRow(ctx,
		`SELECT`+recordColumns+` FROM subscriptions WHERE provider_subscription_id = $1`, providerSubID)
	return scanRecord(row)
}

// Apply upserts the full event snapshot. The active plan is derived from the
// status in SQL so a replayed or reordered event can never leave an
// entitlement behind on a non-entitling status.
func (s *Store) Apply(ctx context.Context, u subscription.Update) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			user_id, active_plan, selected_plan, subscription_status,
			provider_customer_id, provider_subscription_id,
			current_period_start, current_period_end, trial_start, trial_end,
			canceled_at, updated_at
		) VALUES (
			$1,
			CASE WHEN $3 IN ('trialing', 'active') THEN NULLIF($2, '') END,
			NULLIF($2, ''), $3,
			NULLIF($4, ''), NULLIF($5, ''),
			$6, $7, $8, $9,
			NULL, now()
		)
		ON CONFLICT (user_id) DO UPDATE SET
			active_plan = CASE WHEN EXCLUDED.subscription_status IN ('trialing', 'active') THEN EXCLUDED.selected_plan END,
			selected_plan = EXCLUDED.selected_plan,
			subscription_status = EXCLUDED.subscription_status,
			provider_customer_id = COALESCE(EXCLUDED.provider_customer_id, subscriptions.provider_customer_id),
			provider_subscription_id = COALESCE(EXCLUDED.provider_subscription_id, subscriptions.provider_subscription_id),
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			canceled_at = NULL,
			updated_at = now()`,
		u.UserID, string(u.Plan), string(u.Status),
		u.ProviderCustomerID, u.ProviderSubID,
		u.PeriodStart, u.PeriodEnd, u.TrialStart, u.TrialEnd,
	)
	if pg.IsDuplicateKeyError(err) {
		return subscription.ErrProviderSubIDReassigned
	}
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// Cancel transitions the row holding the provider subscription ID. The trial
// grace rule lives in the CASE expression so the check and the write are one
// atomic statement.
func (s *Store) Cancel(ctx context.Context, c subscription.Cancellation) error {
	if c.ProviderSubID == "" {
		return subscription.ErrSubscriptionNotFound
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			active_plan = CASE
				WHEN subscription_status = 'trialing' AND trial_end IS NOT NULL AND trial_end > now()
				THEN active_plan
			END,
			subscription_status = $2,
			canceled_at = CASE WHEN $2 = 'canceled' THEN COALESCE($3, now()) ELSE canceled_at END,
			updated_at = now()
		WHERE provider_subscription_id = $1`,
		c.ProviderSubID, string(c.Status), c.CanceledAt,
	)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

// SetPlan activates a plan without provider involvement. On existing rows
// only the plan fields move; provider linkage and billing periods stay.
func (s *Store) SetPlan(ctx context.Context, userID uuid.UUID, plan subscription.Tier) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (user_id, active_plan, selected_plan, subscription_status, updated_at)
		VALUES ($1, $2, $2, 'active', now())
		ON CONFLICT (user_id) DO UPDATE SET
			active_plan = EXCLUDED.active_plan,
			selected_plan = EXCLUDED.selected_plan,
			subscription_status = CASE
				WHEN subscriptions.subscription_status IN ('trialing', 'active')
				THEN subscriptions.subscription_status
				ELSE 'active'
			END,
			canceled_at = NULL,
			updated_at = now()`,
		userID, string(plan),
	)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

func (s *Store) DirectCancel(ctx context.Context, userID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET
			active_plan = NULL,
			subscription_status = 'canceled',
			canceled_at = $2,
			updated_at = now()
		WHERE user_id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) MarkCancelRequested(ctx context.Context, userID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET canceled_at = $2, updated_at = now() WHERE user_id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("mark cancel requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*subscription.Record, error) {
	var (
		rec          subscription.Record
		activePlan   *string
		selectedPlan *string
		customerID   *string
		subID        *string
	)
	err := row.Scan(
		&rec.UserID, &activePlan, &selectedPlan, &rec.Status,
		&customerID, &subID,
		&rec.PeriodStart, &rec.PeriodEnd, &rec.TrialStart, &rec.TrialEnd,
		&rec.CanceledAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if activePlan != nil {
		rec.ActivePlan = subscription.Tier(*activePlan)
	}
	if selectedPlan != nil {
		rec.SelectedPlan = subscription.Tier(*selectedPlan)
	}
	if customerID != nil {
		rec.ProviderCustomerID = *customerID
	}
	if subID != nil {
		rec.ProviderSubID = *subID
	}
	return &rec, nil
}
