package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier represents a subscription plan level. The zero value means no paid
// access.
type Tier string

const (
	TierNone  Tier = ""
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// ParseTier validates a plan name, case-insensitively. Returns false for
// anything outside the fixed tier set.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, true
	case TierPro:
		return TierPro, true
	case TierUltra:
		return TierUltra, true
	}
	return TierNone, false
}

// Status represents the lifecycle state of a subscription record.
type Status string

const (
	StatusNone     Status = "none"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusOnHold   Status = "on_hold"
	StatusCanceled Status = "canceled"
	StatusInactive Status = "inactive"
)

// BillingPeriod represents the billing frequency selected at checkout.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// ParseBillingPeriod validates a billing period name, case-insensitively.
func ParseBillingPeriod(s string) (BillingPeriod, bool) {
	switch BillingPeriod(strings.ToLower(strings.TrimSpace(s))) {
	case PeriodMonthly:
		return PeriodMonthly, true
	case PeriodYearly:
		return PeriodYearly, true
	}
	return "", false
}

// Record is the single source of truth for a user's subscription.
// Exactly one record exists per user; all writes are upserts keyed on UserID.
type Record struct {
	UserID             uuid.UUID  `json:"user_id"`
	ActivePlan         Tier       `json:"active_plan,omitempty"`
	SelectedPlan       Tier       `json:"selected_plan,omitempty"`
	Status             Status     `json:"subscription_status"`
	ProviderCustomerID string     `json:"provider_customer_id,omitempty"`
	ProviderSubID      string     `json:"provider_subscription_id,omitempty"`
	PeriodStart        *time.Time `json:"current_period_start,omitempty"`
	PeriodEnd          *time.Time `json:"current_period_end,omitempty"`
	TrialStart         *time.Time `json:"trial_start,omitempty"`
	TrialEnd           *time.Time `json:"trial_end,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasProviderSubscription reports whether the record is backed by an external
// provider subscription. Records without one are mutated directly by the
// management API; records with one are only mutated by webhook events.
func (r *Record) HasProviderSubscription() bool {
	return r.ProviderSubID != ""
}

// StillInTrialAt reports whether the record is trialing with trial time
// remaining at the given instant. Cancellation during this window keeps the
// active plan until the trial runs out.
func (r *Record) StillInTrialAt(now time.Time) bool {
	return r.Status == StatusTrialing && r.TrialEnd != nil && r.TrialEnd.After(now)
}
