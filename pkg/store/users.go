package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateUser inserts a new user. Returns ErrConflict when the email is
// already registered.
func (s *Store) CreateUser(ctx context.Context, email, credentialHash, apiKeyHash string) (*User, error) {
	u := &User{
		ID:             uuid.NewString(),
		Email:          email,
		CredentialHash: credentialHash,
		APIKeyHash:     apiKeyHash,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := s.exec(ctx,
		`INSERT INTO users (id, email, credential_hash, api_key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.CredentialHash, u.APIKeyHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %s: %w", email, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByAPIKeyHash resolves the authenticated user for a request.
func (s *Store) GetUserByAPIKeyHash(ctx context.Context, apiKeyHash string) (*User, error) {
	return s.scanUser(s.queryRow(ctx,
		`SELECT id, email, credential_hash, api_key_hash, created_at FROM users WHERE api_key_hash = ?`,
		apiKeyHash))
}

// GetUserByEmail looks a user up for credential verification.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.queryRow(ctx,
		`SELECT id, email, credential_hash, api_key_hash, created_at FROM users WHERE email = ?`,
		email))
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.queryRow(ctx,
		`SELECT id, email, credential_hash, api_key_hash, created_at FROM users WHERE id = ?`,
		id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.CredentialHash, &u.APIKeyHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}
