package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/agriadvisor/internal/models"
)

// Bootstrap checks connectivity, applies migrations and seeds u.
func (s *Store) Bootstrap(ctx context.Context, u models.User) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	return s.EnsureUser(ctx, u)
}

// BootstrapWithRetry repeats Bootstrap on bo's schedule until it succeeds
// or ctx is done. A username clash is not retried. notify, if set, sees
// every failed attempt.
func (s *Store) BootstrapWithRetry(ctx context.Context, u models.User, bo backoff.BackOff, notify backoff.Notify) error {
	op := func() error {
		err := s.Bootstrap(ctx, u)
		if errors.Is(err, ErrUsernameTaken) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}
