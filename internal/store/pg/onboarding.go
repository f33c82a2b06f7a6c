package pg

import (
	"context"
	"errors"
	"strings"
)

// HasCompletedOnboarding reads the per-user onboarding marker.
func (s *Store) HasCompletedOnboarding(ctx context.Context, userID string) (bool, error) {
	if s.db == nil {
		return false, errors.New("database connection unavailable")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("user id is required")
	}

	var done bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from onboarding_flags where user_id = $1)
	`, userID).Scan(&done)
	if err != nil {
		return false, err
	}
	return done, nil
}

// MarkOnboardingComplete sets the marker. Idempotent.
func (s *Store) MarkOnboardingComplete(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		insert into onboarding_flags (user_id, completed_at)
		values ($1, now())
		on conflict (user_id) do nothing
	`, userID)
	return err
}
