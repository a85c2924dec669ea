package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProfileStore looks up and mirrors user profile data. Webhook events that
// lack checkout metadata fall back to matching the customer email against
// profiles; plan changes are mirrored onto the profile for display.
type ProfileStore interface {
	FindUserIDByEmail(ctx context.Context, email string) (uuid.UUID, error)
	SetPlan(ctx context.Context, userID uuid.UUID, plan Tier) error
}

// IdentityResolver maps a provider event to an internal user ID. Resolution
// tries, in order: the user_id planted in checkout metadata, the customer
// email against user profiles, and finally the provider subscription ID
// against previously stored records.
type IdentityResolver struct {
	profiles ProfileStore
	store    Store
}

func NewIdentityResolver(profiles ProfileStore, store Store) *IdentityResolver {
	if profiles == nil {
		panic("subscription: profile store is required")
	}
	if store == nil {
		panic("subscription: store is required")
	}
	return &IdentityResolver{profiles: profiles, store: store}
}

// Resolve returns the internal user ID for the event, or
// ErrIdentityNotResolved when no link in the chain matches.
func (r *IdentityResolver) Resolve(ctx context.Context, ev *Event) (uuid.UUID, error) {
	if ev.UserID != "" {
		if userID, err := uuid.Parse(ev.UserID); err == nil {
			return userID, nil
		}
	}

	if ev.CustomerEmail != "" {
		userID, err := r.profiles.FindUserIDByEmail(ctx, strings.ToLower(ev.CustomerEmail))
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return uuid.Nil, fmt.Errorf("lookup profile by email: %w", err)
		}
	}

	if ev.SubscriptionID != "" {
		rec, err := r.store.GetByProviderSubID(ctx, ev.SubscriptionID)
		if err == nil {
			return rec.UserID, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return uuid.Nil, fmt.Errorf("lookup subscription by provider ID: %w", err)
		}
	}

	return uuid.Nil, ErrIdentityNotResolved
}
