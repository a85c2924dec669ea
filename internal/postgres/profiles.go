package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docuforge/billing/pkg/pg"
	"github.com/docuforge/billing/pkg/subscription"
)

// ProfileStore implements subscription.ProfileStore on the user_profiles
// table. Emails are matched case-insensitively.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func NewProfileStore(pool *pgxpool.Pool) *ProfileStore {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &ProfileStore{pool: pool}
}

func (s *ProfileStore) FindUserIDByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM user_profiles WHERE lower(email) = $1`,
		strings.ToLower(email),
	).Scan(&userID)
	if pg.IsNotFoundError(err) {
		return uuid.Nil, subscription.ErrProfileNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("find profile by email: %w", err)
	}
	return userID, nil
}

func (s *ProfileStore) SetPlan(ctx context.Context, userID uuid.UUID, plan subscription.Tier) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_profiles SET plan = $2, updated_at = now() WHERE user_id = $1`,
		userID, string(plan),
	)
	if err != nil {
		return fmt.Errorf("update profile plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrProfileNotFound
	}
	return nil
}
