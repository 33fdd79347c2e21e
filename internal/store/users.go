package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is an author account able to sign in.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
}

// FindUserByEmail returns the account for an email. Returns ErrNotFound if
// there is none.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var (
		u     User
		roles []byte
	)
	err := s.DB.QueryRowContext(ctx, s.q(
		`SELECT id, email, password_hash, roles, active FROM _users WHERE email = $1`), email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &roles, &u.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.Roles = []string{}
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &u.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &u, nil
}

// SeedAdmin creates the default admin account when the users table is empty.
func (s *Store) SeedAdmin(ctx context.Context, email, password string) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	if _, err := s.DB.ExecContext(ctx, s.q(
		`INSERT INTO _users (id, email, password_hash, roles, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		uuid.NewString(), email, string(hash), `["admin"]`, true, now, now,
	); err != nil {
		return fmt.Errorf("seed admin: %w", MapError(s.Dialect, err))
	}

	log.Printf("WARNING: Default admin user created (%s). Change the password immediately!", email)
	return nil
}
