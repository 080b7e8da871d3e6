package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/agriadvisor/internal/models"
)

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, username, email, full_name, farm_location, created_at
		FROM users
		WHERE id = ?
	`), id).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.FarmLocation, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("query user %d: %w", id, err)
	}
	return u, nil
}

// ErrUsernameTaken is returned by EnsureUser when the id is free but the
// username belongs to another user.
var ErrUsernameTaken = errors.New("username taken by another user")

// DefaultUser is the row seeded for the configured default user id. The
// username carries the id so changing the default never collides with an
// earlier seed.
func DefaultUser(id int64) models.User {
	return models.User{ID: id, Username: fmt.Sprintf("default-%d", id)}
}

// EnsureUser inserts u with its explicit id unless a user with that id
// already exists. Existing rows are left untouched.
func (s *Store) EnsureUser(ctx context.Context, u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO users (id, username, email, full_name, farm_location, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`), u.ID, u.Username, u.Email, u.FullName, u.FarmLocation, u.CreatedAt)
		if err != nil {
			return err
		}
		var one int
		err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM users WHERE id = ?`), u.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrUsernameTaken, u.Username)
		}
		if err != nil {
			return err
		}
		if s.dialect == DialectPostgres {
			// Explicit ids do not advance the serial sequence.
			_, err = tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure user %d: %w", u.ID, err)
	}
	return nil
}
